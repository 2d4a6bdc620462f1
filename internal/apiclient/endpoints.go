package apiclient

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"changePct"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Order struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     *float64  `json:"price,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderRequest is a new order. Price is only sent for limit orders.
type OrderRequest struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Type     string   `json:"type"`
	Quantity float64  `json:"quantity"`
	Price    *float64 `json:"price,omitempty"`
}

type Document struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Login exchanges credentials for a session and keeps its token for later
// calls.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var s Session
	in := map[string]string{"email": email, "password": password}
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/auth/login", in, &s); err != nil {
		return Session{}, err
	}
	c.token = s.Token
	return s, nil
}

// Quotes returns quotes for the listed symbols. Unknown symbols are absent
// from the result.
func (c *Client) Quotes(ctx context.Context, symbols ...string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, xerrors.New("quotes: no symbols")
	}
	var out []Quote
	q := url.Values{"symbols": {strings.Join(symbols, ",")}}
	if err := c.getJSON(ctx, "/api/market/quotes", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.getJSON(ctx, "/api/trading/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Type != "limit" {
		req.Price = nil
	}
	var o Order
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/trading/orders", req, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (c *Client) CancelOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	path := "/api/trading/orders/" + strconv.FormatInt(id, 10)
	if _, err := c.sendJSON(ctx, http.MethodDelete, path, nil, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// UploadDocument sends r as the multipart "file" part. The part's content
// type is sniffed from the first bytes, matching what the server checks.
func (c *Client) UploadDocument(ctx context.Context, name string, r io.Reader) (Document, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Document{}, xerrors.Wrapf(err, "read %s", name)
	}
	head = head[:n]
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(name)+`"`)
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return Document{}, xerrors.Wrap(err, "create multipart part")
	}
	if _, err := io.Copy(part, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		return Document{}, xerrors.Wrapf(err, "read %s", name)
	}
	if err := mw.Close(); err != nil {
		return Document{}, xerrors.Wrap(err, "close multipart body")
	}

	var d Document
	if _, err := c.do(ctx, http.MethodPost, "/api/uploads/documents", nil, mw.FormDataContentType(), &buf, &d); err != nil {
		return Document{}, err
	}
	return d, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
