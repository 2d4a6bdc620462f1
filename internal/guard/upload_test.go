package guard

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
)

var (
	pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	pdfMagic = []byte("%PDF-1.7\n")
)

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartRequest(t *testing.T, values map[string]string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/uploads/documents", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func uploadPipeline() *Pipeline {
	return MustPipeline(Upload(DefaultUploadPolicy()), Decode(1<<20), Filter(nil), Sanitize())
}

func TestUploadPolicy_Messages(t *testing.T) {
	p := DefaultUploadPolicy()
	if got := p.SizeMessage(); got != "File too large. Maximum size is 5.0 MiB" {
		t.Fatalf("SizeMessage = %q", got)
	}
	if got := p.TypeMessage(); got != "Invalid file type. Allowed types: image/jpeg, image/png, image/gif, application/pdf" {
		t.Fatalf("TypeMessage = %q", got)
	}
}

func TestUpload_AcceptsAllowedFile(t *testing.T) {
	var rc recorder
	h := uploadPipeline().Middleware(rc.handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, map[string]string{"kind": " statement "},
		part{"file", "q3.pdf", "application/pdf", pdfMagic}))

	if rec.Code != http.StatusOK || !rc.called {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rc.payload.Body["kind"] != "statement" {
		t.Fatalf("form values not merged and sanitized: %+v", rc.payload.Body)
	}
}

func TestUpload_RejectsDisallowedType(t *testing.T) {
	var rc recorder
	h := uploadPipeline().Middleware(rc.handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, nil, part{"file", "run.sh", "application/x-sh", []byte("#!/bin/sh\n")}))

	if rec.Code != http.StatusBadRequest || rc.called {
		t.Fatalf("status %d called %v", rec.Code, rc.called)
	}
	if m := decodeEnvelope(t, rec); !strings.HasPrefix(m["message"].(string), "Invalid file type. Allowed types:") {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestUpload_RejectsSpoofedType(t *testing.T) {
	var rc recorder
	h := uploadPipeline().Middleware(rc.handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, nil, part{"file", "x.png", "image/png", []byte("<html><script>")}))
	if rec.Code != http.StatusBadRequest || rc.called {
		t.Fatalf("status %d called %v", rec.Code, rc.called)
	}
}

func TestUpload_RejectsOversize(t *testing.T) {
	var rc recorder
	big := append(append([]byte{}, pngMagic...), bytes.Repeat([]byte{0}, 5<<20)...)
	h := uploadPipeline().Middleware(rc.handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, map[string]string{"kind": "statement"},
		part{"file", "big.png", "image/png", big}))

	if rec.Code != http.StatusBadRequest || rc.called {
		t.Fatalf("status %d called %v", rec.Code, rc.called)
	}
	if m := decodeEnvelope(t, rec); m["message"] != "File too large. Maximum size is 5.0 MiB" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestUpload_NoFilePasses(t *testing.T) {
	var rc recorder
	h := uploadPipeline().Middleware(rc.handler())
	h.ServeHTTP(httptest.NewRecorder(), multipartRequest(t, map[string]string{"kind": "statement"}))
	if !rc.called {
		t.Fatal("missing file is the handler's decision")
	}
}

func TestUpload_NonMultipartPasses(t *testing.T) {
	var rc recorder
	h := uploadPipeline().Middleware(rc.handler())
	h.ServeHTTP(httptest.NewRecorder(), jsonRequest(http.MethodPost, "/", `{}`))
	if !rc.called {
		t.Fatal("json request should pass upload stage")
	}
}
