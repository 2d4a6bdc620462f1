package httpmw

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON shape of every API response.
type Envelope struct {
	Success    bool         `json:"success"`
	Message    string       `json:"message,omitempty"`
	Data       any          `json:"data,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	RetryAfter int          `json:"retryAfter,omitempty"`
}

// FieldError describes one failed validation rule. Value is always sent,
// null for a missing field, unless Redacted is set.
type FieldError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Value    any    `json:"value"`
	Redacted bool   `json:"-"`
}

func (e FieldError) MarshalJSON() ([]byte, error) {
	if e.Redacted {
		return json.Marshal(struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		}{e.Field, e.Message})
	}
	type plain FieldError
	return json.Marshal(plain(e))
}

// WriteJSON writes v as JSON with the given status. Encoding errors are
// dropped; headers are already committed by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

// WriteError writes a failure envelope carrying msg.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, Envelope{Success: false, Message: msg})
}

// WriteData writes a success envelope with data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{Success: true, Data: data})
}
