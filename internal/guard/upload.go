package guard

import (
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
)

// UploadPolicy is the allow-list and size ceiling for uploaded files.
type UploadPolicy struct {
	AllowedTypes []string
	MaxBytes     int64
	// MemoryBytes bounds how much of the form is held in memory; the rest
	// spills to temp files. Defaults to 1 MiB.
	MemoryBytes int64
}

func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		AllowedTypes: []string{"image/jpeg", "image/png", "image/gif", "application/pdf"},
		MaxBytes:     5 << 20,
		MemoryBytes:  1 << 20,
	}
}

func (p UploadPolicy) allowed(mt string) bool {
	for _, a := range p.AllowedTypes {
		if mt == a {
			return true
		}
	}
	return false
}

// TypeMessage is the rejection message for a disallowed type.
func (p UploadPolicy) TypeMessage() string {
	return "Invalid file type. Allowed types: " + strings.Join(p.AllowedTypes, ", ")
}

// SizeMessage is the rejection message for an oversize file.
func (p UploadPolicy) SizeMessage() string {
	return "File too large. Maximum size is " + humanize.IBytes(uint64(p.MaxBytes))
}

// Upload parses multipart requests and rejects any file whose declared type
// is not allowed, whose content does not sniff as that type, or which is
// larger than MaxBytes. Requests without files pass; handlers decide whether
// a file was required.
func Upload(policy UploadPolicy) Stage {
	if policy.MemoryBytes <= 0 {
		policy.MemoryBytes = 1 << 20
	}
	return Stage{
		Name: StageUpload,
		Wrap: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if mediaType(r) != "multipart/form-data" {
					next.ServeHTTP(w, r)
					return
				}
				if err := r.ParseMultipartForm(policy.MemoryBytes); err != nil {
					var mbe *http.MaxBytesError
					if errors.As(err, &mbe) {
						httpmw.WriteError(w, http.StatusBadRequest, policy.SizeMessage())
						return
					}
					httpmw.WriteError(w, http.StatusBadRequest, "Invalid multipart body")
					return
				}
				if msg := policy.check(r.MultipartForm); msg != "" {
					_ = r.MultipartForm.RemoveAll()
					httpmw.WriteError(w, http.StatusBadRequest, msg)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	}
}

func (p UploadPolicy) check(form *multipart.Form) string {
	for _, files := range form.File {
		for _, fh := range files {
			declared, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
			if err != nil || !p.allowed(declared) {
				return p.TypeMessage()
			}
			if fh.Size > p.MaxBytes {
				return p.SizeMessage()
			}
			if sniffed, err := sniff(fh); err != nil || sniffed != declared {
				return p.TypeMessage()
			}
		}
	}
	return ""
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	mt, _, err := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	return mt, err
}
