package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/log"
)

// EnvPrefix is the environment prefix used by the server.
const EnvPrefix = "TRADEDESK_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort     int
	AdminPort    int
	TrustedHops  int
	MaxBodyBytes int64

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	DBPath string

	JWTSecret         string
	JWTSecretSSMParam string
	TokenTTL          time.Duration

	RedisAddr      string
	RateLimitFile  string
	LimiterMaxKeys int

	UploadS3Bucket string
	UploadS3Prefix string
	UploadDir      string

	AdminEmail    string
	AdminPassword string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of reverse proxies in front of the server whose X-Forwarded-For entries are trusted")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max JSON request body size in bytes")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.DBPath, "db-path", "tradedesk.db", "sqlite database file")

	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HMAC secret for session tokens (min 32 bytes)")
	fs.StringVar(&c.JWTSecretSSMParam, "jwt-secret-ssm-param", "", "SSM SecureString parameter holding the token secret (used when -jwt-secret is empty)")
	fs.DurationVar(&c.TokenTTL, "token-ttl", 12*time.Hour, "session token lifetime")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for shared rate-limit counters (empty = in-process)")
	fs.StringVar(&c.RateLimitFile, "rate-limit-file", "", "optional YAML file overriding rate-limit policies")
	fs.IntVar(&c.LimiterMaxKeys, "limiter-max-keys", 100000, "max tracked clients in the in-process limiter (0 = unlimited)")

	fs.StringVar(&c.UploadS3Bucket, "upload-s3-bucket", "", "s3 bucket for uploaded documents")
	fs.StringVar(&c.UploadS3Prefix, "upload-s3-prefix", "tradedesk/documents", "s3 key prefix for uploaded documents")
	fs.StringVar(&c.UploadDir, "upload-dir", "uploads", "local directory for uploaded documents when no bucket is set")

	fs.StringVar(&c.AdminEmail, "admin-email", "", "bootstrap admin account email (created if missing)")
	fs.StringVar(&c.AdminPassword, "admin-password", "", "bootstrap admin account password")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if !validPort(c.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if !validPort(c.AdminPort) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops))
	}
	if c.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive (got %d)", c.MaxBodyBytes))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.DBPath == "" {
		errs = append(errs, fmt.Errorf("DB_PATH is required"))
	}

	switch {
	case c.JWTSecret != "" && c.JWTSecretSSMParam != "":
		errs = append(errs, fmt.Errorf("set only one of JWT_SECRET and JWT_SECRET_SSM_PARAM"))
	case c.JWTSecret == "" && c.JWTSecretSSMParam == "":
		errs = append(errs, fmt.Errorf("JWT_SECRET or JWT_SECRET_SSM_PARAM is required"))
	case c.JWTSecret != "" && len(c.JWTSecret) < 32:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 32 bytes"))
	}
	if c.TokenTTL < time.Minute {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be at least 1m (got %s)", c.TokenTTL))
	}

	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	}
	if c.LimiterMaxKeys < 0 {
		errs = append(errs, fmt.Errorf("LIMITER_MAX_KEYS must be >= 0 (got %d)", c.LimiterMaxKeys))
	}

	if c.UploadS3Bucket == "" && c.UploadDir == "" {
		errs = append(errs, fmt.Errorf("UPLOAD_S3_BUCKET or UPLOAD_DIR is required"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	if c.AdminPassword != "" && len(c.AdminPassword) < 12 {
		errs = append(errs, fmt.Errorf("ADMIN_PASSWORD must be at least 12 characters"))
	}

	return errors.Join(errs...)
}
