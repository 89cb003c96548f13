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

	"github.com/keithlinneman/tapcommand-web/internal/adminhttp"
	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/cfg"
	"github.com/keithlinneman/tapcommand-web/internal/docs"
	"github.com/keithlinneman/tapcommand-web/internal/health"
	"github.com/keithlinneman/tapcommand-web/internal/httpmw"
	"github.com/keithlinneman/tapcommand-web/internal/opshttp"
	"github.com/keithlinneman/tapcommand-web/internal/query"
	"github.com/keithlinneman/tapcommand-web/internal/ratelimit"
	"github.com/keithlinneman/tapcommand-web/internal/theme"

	"github.com/keithlinneman/tapcommand-web/internal/httpserver"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/metrics"
	"github.com/keithlinneman/tapcommand-web/internal/otelx"
	"github.com/keithlinneman/tapcommand-web/internal/prof"
	v "github.com/keithlinneman/tapcommand-web/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
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

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl := lvl
	if conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:               vi.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"dev_mode", conf.DevMode,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"trace_sample", conf.TraceSample,
		"backend_url", conf.BackendURL,
		"session_cookie", conf.SessionCookie,
		"refresh_cookie", conf.RefreshCookie,
		"jwt_local_verify", conf.JWTSecret != "" || conf.JWTSecretSSMParam != "",
		"jwt_secret_ssm_param", conf.JWTSecretSSMParam,
		"theme_file", conf.ThemeFile,
		"theme_s3_uri", conf.ThemeS3URI,
	)

	var m *metrics.ServerMetrics = metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       vi.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       vi.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		CAFile:    conf.OTLPCAFile,
		Sample:    conf.TraceSample,
		Service:   vi.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// aws clients are only built when a secret or theme lives in aws
	var awsc *awsClients
	if conf.NeedsAWS() {
		awsc, err = newAWSClients(ctx, conf.AWSRegion)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
	}

	verifier, err := newVerifier(ctx, conf, awsc)
	if err != nil {
		L.Error(ctx, err, "failed to set up access token verification")
		os.Exit(1)
	}
	if verifier == nil {
		L.Info(ctx, "no jwt secret configured, every session is checked against the backend")
	}

	api, err := backend.New(backend.Config{
		BaseURL:   conf.BackendURL,
		Timeout:   conf.BackendTimeout,
		Metrics:   m,
		UserAgent: vi.AppName + "/" + vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create backend client")
		os.Exit(1)
	}

	// shared query cache for documentation and session lookups
	retry := conf.QueryRetry
	if retry == 0 {
		retry = -1
	}
	qc := query.New(query.Config{
		StaleTime:    conf.QueryStaleTime,
		GCTime:       conf.QueryGCTime,
		Retry:        retry,
		FetchTimeout: conf.QueryFetchTimeout,
		ShouldRetry:  backend.Retryable,
		Logger:       L.With("component", "query"),
		Metrics:      m,
	})
	go qc.Run(ctx)

	docQueries := &docs.Queries{Client: qc, API: api}

	sessions := authstate.NewSessionProvider(authstate.SessionOptions{
		CookieName:        conf.SessionCookie,
		RefreshCookieName: conf.RefreshCookie,
		Queries:           qc,
		API:               api,
		Refresher:         api,
		Verifier:          verifier,
		WaitBudget:        conf.AuthWaitBudget,
		Logger:            L.With("component", "authstate"),
	})

	// theme starts on the embedded default and swaps in overlays as they load
	themeMgr := theme.NewManager()
	m.SetThemeLoaded(themeMgr.Get().Source, themeMgr.Get().LoadedAt)

	src, err := themeSource(conf, awsc)
	if err != nil {
		L.Error(ctx, err, "invalid theme source")
		os.Exit(1)
	}
	if src != nil {
		watcher := theme.NewWatcher(theme.WatcherOptions{
			Logger:       L.With("component", "theme"),
			Source:       src,
			Manager:      themeMgr,
			PollInterval: time.Minute,
			Metrics:      m,
		})
		if err := watcher.LoadInitial(ctx); err != nil {
			// keep serving the default theme, the watcher retries in the background
			L.Error(ctx, err, "failed to load theme overlay, using default", "source", src.Name())
		}
		go func() { _ = watcher.Run(ctx) }()
	}

	// per-ip limiter in front of POST /login
	loginLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.LoginRate, conf.LoginBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "login rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "login rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	admin, err := adminhttp.New(adminhttp.Options{
		Logger:        L.With("component", "adminhttp"),
		Auth:          api,
		Sessions:      sessions,
		Docs:          docQueries,
		Theme:         themeMgr,
		LoginLimit:    loginLimiter.Middleware,
		SecureCookies: !conf.DevMode,
		Metrics:       m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create admin handler")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// ready while not draining and the backend answers its health endpoint
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(health.CheckFunc(api.Ping), 2*time.Second),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Security:     httpmw.SecurityOptions{DisableHSTS: conf.DevMode},
		Routes:       admin.Routes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	// we reject connections from public ips and requests with x-forwarded set in middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		AllowPublic:  conf.DevMode,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drain := 15 * time.Second
	if conf.DevMode {
		drain = 0
	}
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drain):
		L.Info(context.Background(), "drain period complete", "drain", drain)
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	qc.Close()

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
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
