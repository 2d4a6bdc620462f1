package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// SampledDenials wraps fn so it runs for the first denial and then at most
// once per interval, whatever the policy or client. Stores that cannot track
// first denials per key (RedisStore) log through it.
func SampledDenials(interval time.Duration, fn func(policy, ip string)) func(policy, ip string) {
	s := &rate.Sometimes{Interval: interval}
	return func(policy, ip string) {
		s.Do(func() { fn(policy, ip) })
	}
}
