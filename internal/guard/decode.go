package guard

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

// Decode builds the request Payload. JSON object bodies keep numbers as
// json.Number; an empty body is an empty map. Form values (urlencoded, or
// multipart when an upload stage already parsed the form) are merged into
// Body. The raw body is replayed to the handler.
func Decode(maxBytes int64) Stage {
	return Stage{
		Name: StageDecode,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p := &Payload{
					Body:   map[string]any{},
					Query:  formValues(r.URL.Query()),
					Params: routeParams(r),
				}

				switch mediaType(r) {
				case "multipart/form-data":
					if r.MultipartForm != nil {
						mergeValues(p.Body, r.MultipartForm.Value)
					}
				case "application/x-www-form-urlencoded":
					r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
					if err := r.ParseForm(); err != nil {
						rejectBody(w, err)
						return
					}
					mergeValues(p.Body, r.PostForm)
				default:
					raw, err := readBody(r, maxBytes)
					if err != nil {
						rejectBody(w, err)
						return
					}
					body, err := decodeObject(raw)
					if err != nil {
						httpmw.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
						return
					}
					p.Body = body
					r.Body = io.NopCloser(bytes.NewReader(raw))
				}

				next.ServeHTTP(w, r.WithContext(withPayload(r.Context(), p)))
			})
		},
	}
}

var errTooLarge = errors.New("request body too large")

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, errTooLarge
	}
	return raw, nil
}

func rejectBody(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.Is(err, errTooLarge) || errors.As(err, &mbe) {
		httpmw.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	httpmw.WriteError(w, http.StatusBadRequest, "Invalid request body")
}

// decodeObject accepts exactly one JSON object, or nothing at all.
func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON body")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("JSON body is not an object")
	}
	return obj, nil
}

func mediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

// formValues maps single values to string and repeated ones to []any.
func formValues(v map[string][]string) map[string]any {
	out := make(map[string]any, len(v))
	mergeValues(out, v)
	return out
}

func mergeValues(dst map[string]any, v map[string][]string) {
	for k, vals := range v {
		switch len(vals) {
		case 0:
		case 1:
			dst[k] = vals[0]
		default:
			list := make([]any, len(vals))
			for i, s := range vals {
				list[i] = s
			}
			dst[k] = list
		}
	}
}

func routeParams(r *http.Request) map[string]any {
	out := map[string]any{}
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return out
	}
	for i, k := range rc.URLParams.Keys {
		if k == "*" || i >= len(rc.URLParams.Values) {
			continue
		}
		out[k] = rc.URLParams.Values[i]
	}
	return out
}
