package tradinghttp

import (
	"mime"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/log"
)

const documentField = "file"

type DocumentResponse struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// HandleUploadDocument stores the multipart "file" part. Type and size were
// checked by the upload stage.
func (api *API) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.MultipartForm == nil || len(r.MultipartForm.File[documentField]) == 0 {
		hook(api.opts.Hooks.Upload, "missing")
		httpmw.WriteError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fh := r.MultipartForm.File[documentField][0]
	ct, _, _ := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	f, err := fh.Open()
	if err != nil {
		hook(api.opts.Hooks.Upload, "store_error")
		api.internalError(w, r, err, "open uploaded file failed")
		return
	}
	defer f.Close()

	key, err := api.opts.Documents.Put(ctx, fh.Filename, ct, f, fh.Size)
	if err != nil {
		hook(api.opts.Hooks.Upload, "store_error")
		api.internalError(w, r, err, "store document failed")
		return
	}

	hook(api.opts.Hooks.Upload, "accepted")
	log.FromContext(ctx).Info(ctx, "document uploaded",
		"document.key", key,
		"document.type", ct,
		"document.size", humanize.IBytes(uint64(fh.Size)),
	)
	httpmw.WriteJSON(w, http.StatusCreated, httpmw.Envelope{
		Success: true,
		Message: "File uploaded successfully",
		Data: DocumentResponse{
			Key:         key,
			Name:        fh.Filename,
			ContentType: ct,
			Size:        fh.Size,
		},
	})
}
