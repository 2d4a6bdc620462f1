package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/tradedesk/internal/auth"
	"github.com/keithlinneman/tradedesk/internal/cfg"
	"github.com/keithlinneman/tradedesk/internal/guard"
	"github.com/keithlinneman/tradedesk/internal/health"
	"github.com/keithlinneman/tradedesk/internal/httpmw"
	"github.com/keithlinneman/tradedesk/internal/httpserver"
	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/metrics"
	"github.com/keithlinneman/tradedesk/internal/opshttp"
	"github.com/keithlinneman/tradedesk/internal/otelx"
	"github.com/keithlinneman/tradedesk/internal/prof"
	"github.com/keithlinneman/tradedesk/internal/ratelimit"
	"github.com/keithlinneman/tradedesk/internal/store"
	"github.com/keithlinneman/tradedesk/internal/tradinghttp"
	"github.com/keithlinneman/tradedesk/internal/uploads"
	v "github.com/keithlinneman/tradedesk/internal/version"
)

// drainPeriod is how long readiness reports draining before the listeners
// shut down, so the load balancer stops routing new requests first.
const drainPeriod = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"db_path", conf.DBPath,
		"redis_addr", conf.RedisAddr,
		"rate_limit_file", conf.RateLimitFile,
		"upload_s3_bucket", conf.UploadS3Bucket,
		"upload_dir", conf.UploadDir,
		"jwt_secret_ssm_param", conf.JWTSecretSSMParam,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		OnActive:      m.SetProfilingActive,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost, so the exporter is plaintext
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is only needed for the SSM secret or the S3 upload bucket
	var awsCfg aws.Config
	if conf.JWTSecretSSMParam != "" || conf.UploadS3Bucket != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	st, err := store.Open(ctx, conf.DBPath)
	if err != nil {
		L.Error(ctx, err, "failed to open store", "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	secret := []byte(conf.JWTSecret)
	if conf.JWTSecretSSMParam != "" {
		secret, err = auth.SecretFromSSM(ctx, ssm.NewFromConfig(awsCfg), conf.JWTSecretSSMParam)
		if err != nil {
			L.Error(ctx, err, "failed to load token secret")
			os.Exit(1)
		}
	}
	tokens, err := auth.NewTokens(secret, conf.TokenTTL)
	if err != nil {
		L.Error(ctx, err, "failed to set up token signer")
		os.Exit(1)
	}
	accounts := auth.NewService(st, tokens)
	if err := accounts.EnsureAdmin(ctx, conf.AdminEmail, conf.AdminPassword); err != nil {
		L.Error(ctx, err, "failed to ensure bootstrap admin")
		os.Exit(1)
	}

	policies := ratelimit.DefaultPolicies()
	if conf.RateLimitFile != "" {
		policies, err = ratelimit.LoadPolicies(conf.RateLimitFile)
		if err != nil {
			L.Error(ctx, err, "failed to load rate limit policies", "path", conf.RateLimitFile)
			os.Exit(1)
		}
	}

	readyChecks := []health.Probe{
		health.Ping("sqlite", 2*time.Second, st.Ping),
	}

	var limiterStore ratelimit.Store
	logDenied := func(string, string) {}
	if conf.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		defer rdb.Close()
		rs := ratelimit.NewRedisStore(rdb, "")
		limiterStore = rs
		readyChecks = append(readyChecks, health.Ping("redis", 2*time.Second, rs.Ping))
		logDenied = ratelimit.SampledDenials(30*time.Second, func(policy, ip string) {
			L.Warn(ctx, "rate limit triggered", "policy", policy, "ip", ip)
		})
	} else {
		mem := ratelimit.NewMemoryStore(ctx,
			ratelimit.WithTTL(ratelimit.MaxWindow(policies)),
			ratelimit.WithMaxVisitors(conf.LimiterMaxKeys),
			// logged once per key until cleanup evicts it
			ratelimit.WithOnFirstDenied(func(key string) {
				L.Warn(ctx, "rate limit triggered", "key", key)
			}),
			ratelimit.WithOnCapacity(func(size int) {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted", "size", size)
			}),
		)
		limiterStore = mem
		go reportLimiterKeys(ctx, mem, m)
	}
	limiter := ratelimit.New(ctx,
		ratelimit.WithPolicies(policies),
		ratelimit.WithStore(limiterStore),
		ratelimit.WithOnDenied(func(policy, ip string) {
			m.IncRateLimitDenied(policy)
			logDenied(policy, ip)
		}),
	)

	var documents uploads.Store
	if conf.UploadS3Bucket != "" {
		documents, err = uploads.NewS3Store(s3.NewFromConfig(awsCfg), conf.UploadS3Bucket, conf.UploadS3Prefix)
	} else {
		documents, err = uploads.NewDirStore(conf.UploadDir)
	}
	if err != nil {
		L.Error(ctx, err, "failed to set up document storage")
		os.Exit(1)
	}

	api, err := tradinghttp.NewAPI(tradinghttp.Options{
		Accounts:     accounts,
		Market:       st,
		Orders:       st,
		Audit:        st,
		Documents:    documents,
		Limiter:      limiter,
		Upload:       guard.DefaultUploadPolicy(),
		MaxBodyBytes: conf.MaxBodyBytes,
		Hooks: tradinghttp.Hooks{
			OrderPlaced:   m.IncOrderPlaced,
			Upload:        m.IncUpload,
			AuthFailure:   m.IncAuthFailure,
			GuardRejected: m.IncGuardRejected,
			FilterBlocked: m.IncFilterBlocked,
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to create trading API")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := gate.Guard(health.All(readyChecks...))

	appHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Identify:     auth.Identify(tokens, m.IncAuthFailure),
		Audit: guard.Audit(guard.AuditOptions{
			Sink:       st,
			UserID:     auth.UserIDFromContext,
			OnRecorded: m.IncAuditRecord,
		}),
		Health:    health.Fixed(true, ""),
		Readiness: readiness,
		APIRoutes: func(r chi.Router) { api.RegisterRoutes(r) },
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// the admin listener rejects public source addresses and forwarded
	// requests in middleware, on top of the security group
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// reportLimiterKeys publishes the in-process limiter size until ctx ends.
func reportLimiterKeys(ctx context.Context, mem *ratelimit.MemoryStore, m *metrics.ServerMetrics) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.SetRateLimitKeys(mem.Len())
		}
	}
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started under systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
