// Package cfg holds the server configuration: flags with inline defaults,
// overridable from TAPCMD_* environment variables.
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

	"github.com/keithlinneman/tapcommand-web/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names for env lookup.
const EnvPrefix = "TAPCMD_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort         int
	AdminPort        int
	TrustedProxyHops int
	DevMode          bool

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	OTLPCAFile      string
	TraceSample     float64

	BackendURL     string
	BackendTimeout time.Duration

	SessionCookie     string
	RefreshCookie     string
	JWTSecret         string
	JWTSecretSSMParam string
	AuthWaitBudget    time.Duration

	QueryStaleTime    time.Duration
	QueryGCTime       time.Duration
	QueryRetry        int
	QueryFetchTimeout time.Duration

	ThemeFile  string
	ThemeS3URI string

	LoginRate  float64
	LoginBurst int

	AWSRegion string
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
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "reverse proxies in front of the server (0 ignores X-Forwarded-For)")
	fs.BoolVar(&c.DevMode, "dev", false, "local dev: no HSTS, non-Secure cookies, ops port reachable from any address")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the OTLP endpoint (local collector)")
	fs.StringVar(&c.OTLPCAFile, "otlp-ca-file", "", "PEM CA bundle for OTLP TLS (system roots when empty)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.BackendURL, "backend-url", "http://localhost:8000", "base URL of the TapCommand API")
	fs.DurationVar(&c.BackendTimeout, "backend-timeout", 10*time.Second, "per request timeout for backend API calls")

	fs.StringVar(&c.SessionCookie, "session-cookie", "tapcmd_session", "name of the session cookie holding the access token")
	fs.StringVar(&c.RefreshCookie, "refresh-cookie", "tapcmd_refresh", "name of the cookie holding the refresh token")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret for local access token verification (optional)")
	fs.StringVar(&c.JWTSecretSSMParam, "jwt-secret-ssm-param", "", "SSM SecureString parameter holding the JWT secret")
	fs.DurationVar(&c.AuthWaitBudget, "auth-wait-budget", 300*time.Millisecond, "how long a request waits on session verification before rendering the loading page")

	fs.DurationVar(&c.QueryStaleTime, "query-stale-time", 0, "age after which cached query data is refetched in the background")
	fs.DurationVar(&c.QueryGCTime, "query-gc-time", 5*time.Minute, "unused query cache entries are dropped after this long")
	fs.IntVar(&c.QueryRetry, "query-retry", 3, "retries per query fetch after the first failure (0..10)")
	fs.DurationVar(&c.QueryFetchTimeout, "query-fetch-timeout", 15*time.Second, "per attempt timeout for query fetches")

	fs.StringVar(&c.ThemeFile, "theme-file", "", "YAML theme overlay on local disk")
	fs.StringVar(&c.ThemeS3URI, "theme-s3-uri", "", "YAML theme overlay in S3 (s3://bucket/key)")

	fs.Float64Var(&c.LoginRate, "login-rate", 0.2, "login attempts per second refilled per client IP")
	fs.IntVar(&c.LoginBurst, "login-burst", 5, "login attempts allowed at once per client IP")

	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region for SSM/S3 (SDK default chain when empty)")
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
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
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

// NeedsAWS reports whether any configured source is read through the AWS SDK.
func (c App) NeedsAWS() bool {
	return c.JWTSecretSSMParam != "" || c.ThemeS3URI != ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedProxyHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be >= 0 (got %d)", c.TrustedProxyHops))
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

	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be an http(s) URL (got %q)", c.BackendURL))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BACKEND_TIMEOUT must be positive"))
	}

	if c.SessionCookie == "" {
		errs = append(errs, fmt.Errorf("SESSION_COOKIE is required"))
	}
	if c.RefreshCookie == "" || c.RefreshCookie == c.SessionCookie {
		errs = append(errs, fmt.Errorf("REFRESH_COOKIE is required and must differ from SESSION_COOKIE"))
	}
	if c.JWTSecret != "" && c.JWTSecretSSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of JWT_SECRET and JWT_SECRET_SSM_PARAM"))
	}
	if c.JWTSecretSSMParam != "" && !strings.HasPrefix(c.JWTSecretSSMParam, "/") {
		errs = append(errs, fmt.Errorf("JWT_SECRET_SSM_PARAM must be a path starting with / (got %q)", c.JWTSecretSSMParam))
	}
	if c.AuthWaitBudget < 0 || c.AuthWaitBudget > 10*time.Second {
		errs = append(errs, fmt.Errorf("AUTH_WAIT_BUDGET must be 0..10s (got %s)", c.AuthWaitBudget))
	}

	if c.QueryStaleTime < 0 {
		errs = append(errs, fmt.Errorf("QUERY_STALE_TIME must be >= 0"))
	}
	if c.QueryGCTime <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_GC_TIME must be positive"))
	}
	if c.QueryRetry < 0 || c.QueryRetry > 10 {
		errs = append(errs, fmt.Errorf("QUERY_RETRY must be 0..10 (got %d)", c.QueryRetry))
	}
	if c.QueryFetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_FETCH_TIMEOUT must be positive"))
	}

	if c.ThemeFile != "" && c.ThemeS3URI != "" {
		errs = append(errs, fmt.Errorf("set only one of THEME_FILE and THEME_S3_URI"))
	}
	if c.ThemeS3URI != "" {
		if u, err := url.Parse(c.ThemeS3URI); err != nil || u.Scheme != "s3" || u.Host == "" || strings.Trim(u.Path, "/") == "" {
			errs = append(errs, fmt.Errorf("THEME_S3_URI must be s3://bucket/key (got %q)", c.ThemeS3URI))
		}
	}

	if c.LoginRate <= 0 {
		errs = append(errs, fmt.Errorf("LOGIN_RATE must be positive"))
	}
	if c.LoginBurst < 1 {
		errs = append(errs, fmt.Errorf("LOGIN_BURST must be >= 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
