// Command tradectl is a terminal client for the tradedesk API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/keithlinneman/tradedesk/internal/cfg"
	"github.com/keithlinneman/tradedesk/internal/fetch"
	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const envPrefix = "TRADECTL_"

type options struct {
	APIURL     string
	Token      string
	TokenFile  string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	CacheTTL   time.Duration
	JSON       bool
	LogLevel   string
}

func registerFlags(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.APIURL, "api-url", "http://localhost:8080", "tradedesk API base url")
	fs.StringVar(&o.Token, "token", "", "session token (overrides -token-file)")
	fs.StringVar(&o.TokenFile, "token-file", defaultTokenFile(), "file holding the session token written by login")
	fs.DurationVar(&o.Timeout, "timeout", 15*time.Second, "per-request timeout")
	fs.IntVar(&o.Retries, "retries", 2, "retries for quotes and orders on failure")
	fs.DurationVar(&o.RetryDelay, "retry-delay", time.Second, "first retry delay, doubled on each retry")
	fs.DurationVar(&o.CacheTTL, "cache-ttl", fetch.DefaultCacheDuration, "how long fetched quotes stay fresh")
	fs.BoolVar(&o.JSON, "json", false, "print JSON instead of tables")
	fs.StringVar(&o.LogLevel, "log-level", "warn", "debug|info|warn|error")
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tradectl", "token")
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `usage: tradectl [flags] <command> [args]

commands:
  login    -email E -password P    start a session and save the token
  quotes   [-watch D] SYMBOL...    show quotes, refreshing every D with -watch
  orders                           list your orders
  place    -symbol S -side buy|sell -type market|limit -qty N [-price P]
  cancel   ID                      cancel an open order
  upload   FILE                    upload a document (pdf, png, jpeg, gif)

flags (also read from %s<FLAG_NAME>):
`, envPrefix)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit, for tests.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var o options
	fs := flag.NewFlagSet("tradectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	registerFlags(fs, &o)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage(stdout, fs)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		usage(stderr, fs)
		return 2
	}
	cfg.FillFromEnv(fs, envPrefix, func(format string, a ...any) {
		fmt.Fprintf(stderr, format+"\n", a...)
	})

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return 2
	}

	lvl, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}
	lg, err := log.New(log.Options{App: "tradectl", Level: lvl, Writer: stderr})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	ctx = log.WithContext(ctx, lg)

	a, err := newApp(o, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var runErr error
	switch cmd {
	case "login":
		runErr = a.login(ctx, cmdArgs)
	case "quotes":
		runErr = a.quotes(ctx, cmdArgs)
	case "orders":
		runErr = a.orders(ctx, cmdArgs)
	case "place":
		runErr = a.place(ctx, cmdArgs)
	case "cancel":
		runErr = a.cancel(ctx, cmdArgs)
	case "upload":
		runErr = a.upload(ctx, cmdArgs)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr, fs)
		return 2
	}

	var ue usageError
	switch {
	case runErr == nil:
		return 0
	case errors.As(runErr, &ue):
		fmt.Fprintln(stderr, "error:", ue.msg)
		return 2
	case errors.Is(runErr, fetch.ErrAborted), errors.Is(runErr, context.Canceled):
		return 130
	case errors.Is(runErr, errReported):
		return 1
	default:
		lg.Error(ctx, runErr, "command failed", "command", cmd)
		fmt.Fprintln(stderr, "error:", fetch.Message(runErr))
		return 1
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, a ...any) error { return usageError{fmt.Sprintf(format, a...)} }

// errReported marks failures the notifier already printed.
var errReported = xerrors.New("reported")

// stderrNotifier prints fetch notifications.
type stderrNotifier struct{ w io.Writer }

func (n stderrNotifier) Success(msg string) { fmt.Fprintln(n.w, msg) }
func (n stderrNotifier) Error(msg string)   { fmt.Fprintln(n.w, "error:", msg) }

func loadToken(o options) string {
	if o.Token != "" {
		return o.Token
	}
	if o.TokenFile == "" {
		return ""
	}
	b, err := os.ReadFile(o.TokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func saveToken(path, token string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return xerrors.Wrap(err, "create token dir")
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return xerrors.Wrap(err, "write token file")
	}
	return nil
}
