package guard

import (
	"net/http"
	"regexp"

	"golang.org/x/text/unicode/norm"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

const (
	KindSQL = "sql"
	KindXSS = "xss"
)

var defaultSQLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|create|alter|exec|execute|union|truncate)\b`),
	regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)'\s*or\s*'[^']*'\s*=\s*'`),
	regexp.MustCompile(`--|/\*|\*/`),
}

var defaultXSSPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*(script|iframe|object|embed|link|meta)\b`),
	regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
}

// Inspector matches strings against SQL injection and XSS patterns after
// NFKC normalization, so full-width and other compatibility forms of the
// markers are caught.
type Inspector struct {
	sql []*regexp.Regexp
	xss []*regexp.Regexp

	// OnBlocked runs once per rejected request with the matching kind.
	OnBlocked func(kind string)
}

func NewInspector() *Inspector {
	return &Inspector{sql: defaultSQLPatterns, xss: defaultXSSPatterns}
}

// Inspect reports the first pattern kind s matches.
func (in *Inspector) Inspect(s string) (kind string, matched bool) {
	s = norm.NFKC.String(s)
	for _, re := range in.sql {
		if re.MatchString(s) {
			return KindSQL, true
		}
	}
	for _, re := range in.xss {
		if re.MatchString(s) {
			return KindXSS, true
		}
	}
	return "", false
}

// inspectValue walks maps (keys included) and slices.
func (in *Inspector) inspectValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return in.Inspect(t)
	case map[string]any:
		for k, e := range t {
			if kind, bad := in.Inspect(k); bad {
				return kind, true
			}
			if kind, bad := in.inspectValue(e); bad {
				return kind, true
			}
		}
	case []any:
		for _, e := range t {
			if kind, bad := in.inspectValue(e); bad {
				return kind, true
			}
		}
	}
	return "", false
}

// Filter rejects the request with 400 when any string in the payload
// matches. The response never says which field or pattern matched.
func Filter(in *Inspector) Stage {
	if in == nil {
		in = NewInspector()
	}
	return Stage{
		Name:     StageFilter,
		Requires: []string{StageDecode},
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := payloadOr500(w, r)
				if !ok {
					return
				}
				for _, m := range []map[string]any{p.Body, p.Query, p.Params} {
					if kind, bad := in.inspectValue(m); bad {
						if in.OnBlocked != nil {
							in.OnBlocked(kind)
						}
						httpmw.WriteError(w, http.StatusBadRequest, "Invalid input detected")
						return
					}
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}
