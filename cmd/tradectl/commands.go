package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/tradedesk/internal/apiclient"
	"github.com/keithlinneman/tradedesk/internal/fetch"
	"github.com/keithlinneman/tradedesk/internal/otelx"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

type app struct {
	opts     options
	client   *apiclient.Client
	cache    *fetch.Cache
	notifier fetch.Notifier
	stdout   io.Writer
	stderr   io.Writer
}

func newApp(o options, stdout, stderr io.Writer) (*app, error) {
	c, err := apiclient.New(o.APIURL,
		apiclient.WithToken(loadToken(o)),
		apiclient.WithHTTPClient(&http.Client{Timeout: o.Timeout, Transport: otelx.Transport(nil)}),
	)
	if err != nil {
		return nil, err
	}
	return &app{
		opts:     o,
		client:   c,
		cache:    fetch.NewCache(o.CacheTTL, nil),
		notifier: stderrNotifier{w: stderr},
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", os.Getenv(envPrefix+"EMAIL"), "account email")
	password := fs.String("password", os.Getenv(envPrefix+"PASSWORD"), "account password")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return usagef("login: -email and -password are required")
	}

	s, err := a.client.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := saveToken(a.opts.TokenFile, s.Token); err != nil {
		return err
	}
	if a.opts.JSON {
		return a.printJSON(s)
	}
	fmt.Fprintf(a.stdout, "logged in as %s (%s), session expires %s\n",
		s.User.Email, s.User.Role, humanize.Time(s.ExpiresAt))
	return nil
}

// quotes fetches through a cached query so repeated symbol sets inside the
// cache window are answered locally.
func (a *app) quotes(ctx context.Context, args []string) error {
	fs := newFlags("quotes")
	watch := fs.Duration("watch", 0, "refresh interval (0 = print once)")
	if err := parse(fs, args); err != nil {
		return err
	}
	symbols := normalizeSymbols(fs.Args())
	if len(symbols) == 0 {
		return usagef("quotes: at least one symbol is required")
	}

	q := fetch.New(ctx, func(ctx context.Context) ([]apiclient.Quote, error) {
		return a.client.Quotes(ctx, symbols...)
	}, fetch.Options[[]apiclient.Quote]{
		CacheKey:   "quotes:" + strings.Join(symbols, ","),
		Cache:      a.cache,
		RetryCount: a.opts.Retries,
		RetryDelay: a.opts.RetryDelay,
		Notifier:   a.notifier,
	})
	defer q.Close()

	qs, err := q.Execute(ctx)
	if err != nil {
		return reported(err)
	}
	if err := a.printQuotes(qs); err != nil {
		return err
	}
	if *watch <= 0 {
		return nil
	}

	t := time.NewTicker(*watch)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		qs, err := q.Refetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// already shown by the notifier; keep watching
			continue
		}
		if err := a.printQuotes(qs); err != nil {
			return err
		}
	}
}

func (a *app) printQuotes(qs []apiclient.Quote) error {
	if a.opts.JSON {
		return a.printJSON(qs)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tCHANGE\tUPDATED\t")
	for _, q := range qs {
		fmt.Fprintf(tw, "%s\t%s\t%+.2f%%\t%s\t\n",
			q.Symbol, humanize.CommafWithDigits(q.Price, 2), q.ChangePct, humanize.Time(q.UpdatedAt))
	}
	return tw.Flush()
}

func (a *app) orders(ctx context.Context, args []string) error {
	fs := newFlags("orders")
	if err := parse(fs, args); err != nil {
		return err
	}
	q := fetch.New(ctx, a.client.Orders, fetch.Options[[]apiclient.Order]{
		RetryCount: a.opts.Retries,
		RetryDelay: a.opts.RetryDelay,
		Notifier:   a.notifier,
	})
	defer q.Close()

	orders, err := q.Execute(ctx)
	if err != nil {
		return reported(err)
	}
	if a.opts.JSON {
		return a.printJSON(orders)
	}
	if len(orders) == 0 {
		fmt.Fprintln(a.stdout, "no orders")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tSIDE\tTYPE\tQTY\tPRICE\tSTATUS\tPLACED")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Symbol, o.Side, o.Type,
			strconv.FormatFloat(o.Quantity, 'f', -1, 64), priceText(o.Price),
			o.Status, humanize.Time(o.CreatedAt))
	}
	return tw.Flush()
}

func priceText(p *float64) string {
	if p == nil {
		return "market"
	}
	return humanize.CommafWithDigits(*p, 2)
}

func (a *app) place(ctx context.Context, args []string) error {
	fs := newFlags("place")
	symbol := fs.String("symbol", "", "instrument symbol")
	side := fs.String("side", "", "buy or sell")
	typ := fs.String("type", "market", "market or limit")
	qty := fs.Float64("qty", 0, "quantity")
	price := fs.Float64("price", 0, "limit price")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *symbol == "" || *side == "" || *qty <= 0 {
		return usagef("place: -symbol, -side and a positive -qty are required")
	}
	req := apiclient.OrderRequest{
		Symbol:   strings.ToUpper(*symbol),
		Side:     strings.ToLower(*side),
		Type:     strings.ToLower(*typ),
		Quantity: *qty,
	}
	if req.Type == "limit" {
		if *price <= 0 {
			return usagef("place: limit orders need a positive -price")
		}
		req.Price = price
	}

	o, err := a.client.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}
	if a.opts.JSON {
		return a.printJSON(o)
	}
	fmt.Fprintf(a.stdout, "order %d placed: %s %s %s (%s)\n",
		o.ID, o.Side, strconv.FormatFloat(o.Quantity, 'f', -1, 64), o.Symbol, o.Status)
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usagef("cancel: exactly one order id is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return usagef("cancel: %q is not an order id", args[0])
	}
	o, err := a.client.CancelOrder(ctx, id)
	if err != nil {
		return err
	}
	if a.opts.JSON {
		return a.printJSON(o)
	}
	fmt.Fprintf(a.stdout, "order %d %s\n", o.ID, o.Status)
	return nil
}

func (a *app) upload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usagef("upload: exactly one file is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return xerrors.Wrap(err, "open upload")
	}
	defer f.Close()

	d, err := a.client.UploadDocument(ctx, filepath.Base(args[0]), f)
	if err != nil {
		return err
	}
	if a.opts.JSON {
		return a.printJSON(d)
	}
	fmt.Fprintf(a.stdout, "uploaded %s (%s, %s) as %s\n",
		d.Name, d.ContentType, humanize.IBytes(uint64(d.Size)), d.Key)
	return nil
}

// normalizeSymbols upper-cases, splits on commas, dedupes and sorts so the
// same set always maps to the same cache key.
func normalizeSymbols(args []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// reported marks query failures as already printed by the notifier, keeping
// aborts distinguishable.
func reported(err error) error {
	if errors.Is(err, fetch.ErrAborted) {
		return err
	}
	return errReported
}
