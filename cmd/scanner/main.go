package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	appscan "github.com/ahrav/codesentry/internal/app/scan"
	"github.com/ahrav/codesentry/internal/domain/scan"
	"github.com/ahrav/codesentry/internal/infra/backend"
	"github.com/ahrav/codesentry/internal/infra/documents"
	"github.com/ahrav/codesentry/internal/payload"
	"github.com/ahrav/codesentry/internal/results"
	"github.com/ahrav/codesentry/internal/scanjob"
	"github.com/ahrav/codesentry/internal/tracker"
	"github.com/ahrav/codesentry/internal/upload"
	"github.com/ahrav/codesentry/pkg/common"
	"github.com/ahrav/codesentry/pkg/common/logger"
	"github.com/ahrav/codesentry/pkg/common/otel"
	"github.com/ahrav/codesentry/pkg/config"
)

const serviceType = "scanner"

// defaultRequestsPerSecond paces backend calls when the config does not
// override it. The polling loop is the dominant consumer.
const defaultRequestsPerSecond = 5

// envTokenProvider reads the bearer credential from the environment on
// every call so a rotated token is picked up without a restart.
type envTokenProvider struct{ key string }

func (p envTokenProvider) Token(context.Context) (string, error) {
	tok := os.Getenv(p.key)
	if tok == "" {
		return "", fmt.Errorf("environment variable %s is not set", p.key)
	}
	return tok, nil
}

func main() {
	_, _ = maxprocs.Set()

	v := viper.New()
	v.SetEnvPrefix("CODESENTRY")
	v.AutomaticEnv()
	v.SetDefault("config", "codesentry.yaml")
	v.SetDefault("scope", scan.ScopeProject.String())
	v.SetDefault("workspace", ".")
	v.SetDefault("log_level", "info")

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, val := range r.Attributes {
				errorAttrs[k] = val
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("SCANNER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}
	log = logger.NewWithMetadata(os.Stdout, parseLogLevel(v.GetString("log_level")), svcName, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.NewFileLoader(v.GetString("config")).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	var tracerProvider trace.TracerProvider = noop.NewTracerProvider()
	if cfg.Tracing != nil {
		tp, teardown, err := otel.InitTracing(log, otel.Config{
			ServiceName:      serviceType,
			ExporterEndpoint: cfg.Tracing.ExporterEndpoint,
			Probability:      cfg.Tracing.Probability,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"host.name":        hostname,
			},
			InsecureExporter: cfg.Tracing.Insecure,
		})
		if err != nil {
			log.Error(ctx, "failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer teardown(ctx)
		tracerProvider = tp
	}
	tracer := tracerProvider.Tracer(serviceType)

	rps := cfg.Backend.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	limiter := common.NewRateLimiter(rps, 1)

	api := backend.NewClient(cfg.Backend.Endpoint, envTokenProvider{key: "CODESENTRY_TOKEN"}, limiter, tracer)

	ignore := results.NewIgnoreList(cfg.Ignore.Path)
	if err := ignore.Load(); err != nil {
		log.Warn(ctx, "failed to load ignore list, starting empty", "path", cfg.Ignore.Path, "error", err)
	}

	limits := scan.Limits{
		ProjectPayloadBytes: cfg.Limits.ProjectPayloadBytes,
		FilePayloadBytes:    cfg.Limits.FilePayloadBytes,
	}
	docs := documents.NewMemoryStore()
	trk := tracker.New(ignore, log)

	svc := appscan.NewService(
		v.GetString("workspace"),
		limits,
		cfg.Excludes,
		docs,
		api,
		payload.NewBuilder(docs, limits, log, tracer),
		upload.NewCoordinator(api, cfg.Backend.KMSKeyARN, log, tracer),
		scanjob.NewOrchestrator(api, log, tracer),
		results.NewAggregator(api, docs, ignore, log, tracer),
		trk,
		appscan.NopNotifier{},
		log,
		tracer,
	)

	scope := scan.ParseScope(v.GetString("scope"))
	if scope == "" {
		log.Error(ctx, "unrecognized scan scope", "scope", v.GetString("scope"))
		os.Exit(1)
	}
	target := v.GetString("target")
	if target == "" {
		target = v.GetString("workspace")
	}
	if scope.IsFileScope() && v.GetString("target") == "" {
		log.Error(ctx, "file-scope scans require a target file")
		os.Exit(1)
	}

	go func() {
		sig := <-sigCh
		log.Info(ctx, "Received shutdown signal, stopping scan", "signal", sig)
		svc.StopScan(scope)
		cancel()
	}()

	res, err := svc.StartScan(ctx, target, scope)
	if err != nil {
		if scan.IsScanStopped(err) {
			log.Info(ctx, "Scan stopped")
			return
		}
		log.Error(ctx, "Scan failed", "code", scan.CodeOf(err), "error", err)
		os.Exit(1)
	}

	for _, group := range res.Groups {
		for _, f := range group.Findings {
			if !f.Visible {
				continue
			}
			fmt.Printf("%s:%d-%d [%s] %s\n", group.FilePath, f.StartLine+1, f.EndLine, f.Severity, f.Title)
		}
	}
	log.Info(ctx, "Scan finished",
		"job_id", res.JobID,
		"files", res.Metrics.ScannedFiles,
		"findings", res.Metrics.Findings,
		"duration", res.Metrics.Duration,
	)
}

func parseLogLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
