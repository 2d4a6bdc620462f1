package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var angleStripper = strings.NewReplacer("<", "", ">", "")

// SanitizeString strips angle brackets and surrounding whitespace.
func SanitizeString(s string) string {
	return strings.TrimSpace(angleStripper.Replace(s))
}

// sanitizeValue rewrites string leaves in place and returns v.
func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		for k, e := range t {
			t[k] = sanitizeValue(e)
		}
	case []any:
		for i, e := range t {
			t[i] = sanitizeValue(e)
		}
	}
	return v
}

// Sanitize cleans every string leaf of the payload and replaces r.Body
// with the re-encoded JSON body so handlers decoding r.Body see the same
// values as the payload.
func Sanitize() Stage {
	return Stage{
		Name:     StageSanitize,
		Requires: []string{StageDecode},
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := payloadOr500(w, r)
				if !ok {
					return
				}
				sanitizeValue(p.Body)
				sanitizeValue(p.Query)
				sanitizeValue(p.Params)

				if mediaType(r) != "multipart/form-data" {
					raw, err := json.Marshal(p.Body)
					if err == nil {
						r.Body = io.NopCloser(bytes.NewReader(raw))
						r.ContentLength = int64(len(raw))
						r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
					}
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}
