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

	"github.com/keithlinneman/requestguard/internal/apihttp"
	"github.com/keithlinneman/requestguard/internal/cfg"
	"github.com/keithlinneman/requestguard/internal/health"
	"github.com/keithlinneman/requestguard/internal/httpserver"
	"github.com/keithlinneman/requestguard/internal/log"
	"github.com/keithlinneman/requestguard/internal/metrics"
	"github.com/keithlinneman/requestguard/internal/opshttp"
	"github.com/keithlinneman/requestguard/internal/otelx"
	"github.com/keithlinneman/requestguard/internal/prof"
	"github.com/keithlinneman/requestguard/internal/ratelimit"
	v "github.com/keithlinneman/requestguard/internal/version"
	"github.com/keithlinneman/requestguard/internal/xerrors"
)

const (
	appName          = "requestguard"
	readinessTimeout = 2 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
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
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		ErrorLinks:      conf.IncludeErrorLinks,
		MaxErrorLinks:   conf.MaxErrorLinks,
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
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"ratelimit_sweep_interval", conf.RateLimitSweepInterval,
		"ratelimit_max_clients", conf.RateLimitMaxClients,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Version:       vi.Version,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"commit":    vi.ShortCommit(),
			"source":    "go-agent",
		},
		ProfileMutexFraction: 5,
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
		UserAgent: vi.UserAgent(appName),
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// Rate limiting: one registry for the process, limiters created per preset
	reg := ratelimit.NewRegistry(
		ratelimit.WithMaxClients(conf.RateLimitMaxClients),
		ratelimit.WithOnSweep(func(c ratelimit.Config, evicted int) {
			m.ObserveSweep(c.Key(), evicted)
		}),
		ratelimit.WithOnCapacity(ratelimit.CapacityWarner(L, conf.RateLimitCapacityWarnPeriod, m.IncRateLimitCapacity)),
		ratelimit.WithOnConfigMismatch(func(existing, requested ratelimit.Config) {
			m.IncConfigMismatch(existing.Key())
			L.Warn(ctx, "rate limit config mismatch, keeping first registration",
				"endpoint", existing.Key(),
				"limit", existing.MaxRequests,
				"windowMs", existing.Window.Milliseconds(),
				"requested_limit", requested.MaxRequests,
				"requested_windowMs", requested.Window.Milliseconds(),
			)
		}),
	)
	for _, c := range ratelimit.Presets() {
		if _, err := reg.Get(c); err != nil {
			L.Error(ctx, err, "invalid rate limit preset", "endpoint", c.Name)
			os.Exit(1)
		}
	}
	m.SetTrackedClientsSource(reg.TrackedClients)
	reg.StartSweeper(ctx, conf.RateLimitSweepInterval)

	guard := ratelimit.NewGuard(reg,
		ratelimit.WithLogger(L),
		ratelimit.WithOnDecision(m.ObserveDecision),
	)
	api := apihttp.NewAPI(guard, apihttp.Handlers{}, L)

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	readiness := health.Timeout(health.All(
		gate.Probe(),
		health.Named("ratelimit", reg),
	), readinessTimeout)

	httpStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:          L,
		Port:            conf.HTTPPort,
		UseRecoverMW:    true,
		OnPanic:         m.IncHttpPanic,
		MetricsMW:       m.Middleware,
		Health:          health.Fixed(true, ""),
		Readiness:       readiness,
		APIRoutes:       api.RegisterRoutes,
		MaxBodyBytes:    conf.MaxBodyBytes,
		ShutdownTimeout: conf.ShutdownTimeout,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = httpStop(context.Background()) }()

	// ops listener rejects public peers in middleware in case it is ever
	// exposed by accident
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Limits:       reg,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed", "drain", conf.ShutdownDrain)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.ShutdownDrain):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, conf.ShutdownTimeout)
	defer cancel()

	if err := httpStop(shutdownCtx); err != nil {
		L.Error(bg, err, "http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify: write")
	}
	return nil
}
