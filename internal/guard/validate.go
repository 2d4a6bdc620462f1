package guard

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

// Check inspects one field. It returns "" on success or a message that is
// appended to the field name, e.g. "is required".
type Check func(value any, present bool) string

// Rule binds checks to a field. Checks stop at the first failure.
type Rule struct {
	Field  string
	Checks []Check
	// Secret keeps the value out of the error response.
	Secret bool
}

func Field(name string, checks ...Check) Rule {
	return Rule{Field: name, Checks: checks}
}

func SecretField(name string, checks ...Check) Rule {
	return Rule{Field: name, Checks: checks, Secret: true}
}

// Required fails on a missing field, null, or empty string.
func Required() Check {
	return func(v any, present bool) string {
		if !present || v == nil {
			return "is required"
		}
		if s, ok := v.(string); ok && s == "" {
			return "is required"
		}
		return ""
	}
}

// The remaining checks pass when the field is absent; pair them with
// Required for mandatory fields.

func String() Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
		return ""
	}
}

func MaxLen(n int) Check {
	return func(v any, present bool) string {
		if s, ok := v.(string); ok && present && utf8.RuneCountInString(s) > n {
			return fmt.Sprintf("must be at most %d characters", n)
		}
		return ""
	}
}

func MinLen(n int) Check {
	return func(v any, present bool) string {
		if s, ok := v.(string); ok && present && utf8.RuneCountInString(s) < n {
			return fmt.Sprintf("must be at least %d characters", n)
		}
		return ""
	}
}

func OneOf(allowed ...string) Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		s, _ := v.(string)
		for _, a := range allowed {
			if s == a {
				return ""
			}
		}
		return "must be one of: " + strings.Join(allowed, ", ")
	}
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func Email() Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		if s, ok := v.(string); !ok || len(s) > 254 || !emailRe.MatchString(s) {
			return "must be a valid email address"
		}
		return ""
	}
}

// Positive accepts JSON numbers and numeric strings greater than zero.
func Positive() Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		if f, ok := Number(v); ok && f > 0 {
			return ""
		}
		return "must be a positive number"
	}
}

// ID accepts a positive base-10 integer, as a string or JSON number.
func ID() Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		if _, ok := ParseID(v); ok {
			return ""
		}
		return "must be a positive integer"
	}
}

// ParseID converts a route param or JSON number to a positive int64.
func ParseID(v any) (int64, bool) {
	var s string
	switch n := v.(type) {
	case string:
		s = n
	case json.Number:
		s = n.String()
	default:
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

var symbolRe = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)

// Symbol accepts an upper-case ticker such as AAPL or BRK.B.
func Symbol() Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		if s, ok := v.(string); ok && symbolRe.MatchString(s) {
			return ""
		}
		return "must be a valid ticker symbol"
	}
}

// SymbolList accepts up to max comma-separated tickers.
func SymbolList(max int) Check {
	return func(v any, present bool) string {
		if !present {
			return ""
		}
		s, _ := v.(string)
		parts := SplitSymbols(s)
		if len(parts) == 0 || len(parts) > max {
			return fmt.Sprintf("must list 1 to %d ticker symbols", max)
		}
		for _, p := range parts {
			if !symbolRe.MatchString(p) {
				return "must contain only valid ticker symbols"
			}
		}
		return ""
	}
}

// SplitSymbols splits a comma-separated ticker list, dropping empty entries.
func SplitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Number converts a decoded JSON number, float or numeric string. NaN and
// infinities are not numbers here.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Validate runs every rule and answers 400 with all failures when any fail.
func Validate(rules ...Rule) Stage {
	return Stage{
		Name:     StageValidate,
		Requires: []string{StageSanitize},
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := payloadOr500(w, r)
				if !ok {
					return
				}
				if errs := p.validate(rules); len(errs) > 0 {
					httpmw.WriteJSON(w, http.StatusBadRequest, httpmw.Envelope{
						Success: false,
						Message: "Validation failed",
						Errors:  errs,
					})
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

func (p *Payload) validate(rules []Rule) []httpmw.FieldError {
	var errs []httpmw.FieldError
	for _, rule := range rules {
		v, present := p.Lookup(rule.Field)
		for _, check := range rule.Checks {
			msg := check(v, present)
			if msg == "" {
				continue
			}
			fe := httpmw.FieldError{Field: rule.Field, Message: rule.Field + " " + msg, Redacted: rule.Secret}
			if !rule.Secret {
				fe.Value = v
			}
			errs = append(errs, fe)
			break
		}
	}
	return errs
}
