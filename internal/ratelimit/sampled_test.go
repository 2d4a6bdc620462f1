package ratelimit

import (
	"testing"
	"time"
)

func TestSampledDenials_FirstThenInterval(t *testing.T) {
	var got []string
	fn := SampledDenials(time.Hour, func(policy, ip string) { got = append(got, policy+":"+ip) })

	fn("auth", "10.0.0.1")
	fn("auth", "10.0.0.2")
	fn("api", "10.0.0.3")

	if len(got) != 1 || got[0] != "auth:10.0.0.1" {
		t.Fatalf("calls = %v, want only the first denial", got)
	}
}
