package ratelimit

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is a named budget: at most Max requests per Window per client.
type Policy struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
}

// Decision is a store's answer for one request.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the client should wait; only set when denied.
	RetryAfter time.Duration
}

const (
	PolicyAuth    = "auth"
	PolicyAPI     = "api"
	PolicyTrading = "trading"
	PolicyAdmin   = "admin"
)

// DefaultPolicies returns a fresh copy of the built-in policy set.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAuth: {
			Name:    PolicyAuth,
			Window:  15 * time.Minute,
			Max:     5,
			Message: "Too many authentication attempts, please try again later.",
		},
		PolicyAPI: {
			Name:    PolicyAPI,
			Window:  15 * time.Minute,
			Max:     100,
			Message: "Too many requests, please try again later.",
		},
		PolicyTrading: {
			Name:    PolicyTrading,
			Window:  time.Minute,
			Max:     30,
			Message: "Too many trading requests, please slow down.",
		},
		PolicyAdmin: {
			Name:    PolicyAdmin,
			Window:  15 * time.Minute,
			Max:     50,
			Message: "Too many admin requests, please try again later.",
		},
	}
}

type policyOverride struct {
	Window  string `yaml:"window"`
	Max     *int   `yaml:"max"`
	Message string `yaml:"message"`
}

type policyFile struct {
	Policies map[string]policyOverride `yaml:"policies"`
}

// LoadPolicies reads a YAML file overriding any subset of the default
// policies:
//
//	policies:
//	  trading:
//	    window: 30s
//	    max: 10
//
// Omitted fields keep their defaults. Unknown policy names or fields and
// non-positive windows or maxima are errors.
func LoadPolicies(path string) (map[string]Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit policies: %w", err)
	}
	return parsePolicies(raw)
}

func parsePolicies(raw []byte) (map[string]Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse rate limit policies: %w", err)
	}

	out := DefaultPolicies()
	names := make([]string, 0, len(f.Policies))
	for name := range f.Policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := f.Policies[name]
		p, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("unknown rate limit policy %q", name)
		}
		if o.Window != "" {
			d, err := time.ParseDuration(o.Window)
			if err != nil {
				return nil, fmt.Errorf("policy %s: window: %w", name, err)
			}
			if d <= 0 {
				return nil, fmt.Errorf("policy %s: window must be positive (got %s)", name, d)
			}
			p.Window = d
		}
		if o.Max != nil {
			if *o.Max <= 0 {
				return nil, fmt.Errorf("policy %s: max must be positive (got %d)", name, *o.Max)
			}
			p.Max = *o.Max
		}
		if o.Message != "" {
			p.Message = o.Message
		}
		out[name] = p
	}
	return out, nil
}
