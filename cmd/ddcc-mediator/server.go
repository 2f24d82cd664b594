package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/config"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/certificate"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/healthfolder"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/domain/icvp"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhirclient"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/hcert"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/healthcard"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/idlock"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/keys"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/middleware"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/openhim"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/structuremap"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/telemetry"
)

const version = "0.1.0"

// server holds the wired HTTP stack and the resources to release on
// shutdown.
type server struct {
	echo    *echo.Echo
	repo    *fhirclient.Client
	keys    *keys.Material
	closers []func(context.Context) error
	logger  zerolog.Logger
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	s := &server{logger: logger}

	material, err := keys.Load(cfg.PrivateKeyFile, cfg.PublicKeyFile, logger)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	s.keys = material

	// Telemetry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(reg)

	tp, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:      cfg.OtelEnabled,
		Endpoint:     cfg.OtelEndpoint,
		ServiceName:  cfg.OtelServiceName,
		SamplingRate: cfg.OtelSamplingRate,
	})
	if err != nil {
		return nil, err
	}
	if tp != nil {
		s.closers = append(s.closers, tp.Shutdown)
	}

	// Upstreams
	s.repo = fhirclient.New(cfg.FHIRServer, logger, fhirclient.WithTimeout(cfg.RepositoryTimeout))
	matchbox := structuremap.New(cfg.MatchboxServer, cfg.TransformTimeout, logger)
	transformer := certificate.NewTransformer(matchbox, cfg.DDCCCanonicalBase, cfg.DVCCanonicalBase)
	issuer := healthcard.NewIssuer(material, cfg.SHCIssuer)

	opts := []certificate.Option{
		certificate.WithMetrics(metrics),
		certificate.WithEnricher(healthcard.NewEnricher(issuer)),
	}
	if cfg.IdentityLock == config.IdentityLockRedis {
		client, err := idlock.Dial(ctx, cfg.RedisURL)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		opts = append(opts, certificate.WithLocker(idlock.NewRedis(client, cfg.IdentityLockTTL)))
		logger.Info().Dur("ttl", cfg.IdentityLockTTL).Msg("identity lock enabled")
	}

	pipeline := certificate.NewPipeline(s.repo, transformer, material.Signer, certificate.Config{
		FolderIdentifierSystem:   cfg.FolderIdentifierSystem,
		DocumentIdentifierSystem: cfg.DDCCIdentifierSystem,
		CleanupConcurrency:       cfg.CleanupConcurrency,
	}, logger, opts...)

	wrap := openhim.New(cfg.Standalone, cfg.MediatorURN)
	ddcc := certificate.NewHandler(
		certificate.NewService(transformer, pipeline, logger),
		certificate.NewVerifier(material.Public, metrics),
		material.JWKS(),
		wrap,
		logger,
	)
	folders := healthfolder.NewHandler(healthfolder.NewService(s.repo, logger), wrap)
	dvcIssuer, err := hcert.NewIssuer(material, cfg.CountryCode)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	dvc := icvp.NewHandler(icvp.NewService(transformer, dvcIssuer, logger), wrap, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BatchBodyLimit, "/ddcc", "/ddcc/submitIPS", "/icvp"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/health", "/metrics"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	ddccGroup := e.Group("/ddcc", middleware.RateLimit(rateLimitCfg))
	ddcc.RegisterRoutes(ddccGroup)
	folders.RegisterRoutes(ddccGroup)
	dvc.RegisterRoutes(e.Group("/icvp", middleware.RateLimit(rateLimitCfg)))

	s.echo = e
	return s, nil
}

// Close releases tracer and lock resources. Errors are logged.
func (s *server) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown step failed")
		}
	}
	s.closers = nil
}

// errorHandler renders errors that escape a handler as an OperationOutcome.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		var outcome *fhir.OperationOutcome
		if errors.As(err, &he) {
			status = he.Code
			if oo, ok := he.Message.(*fhir.OperationOutcome); ok {
				outcome = oo
			} else {
				msg = fmt.Sprint(he.Message)
			}
		}

		code := fhir.IssueTypeException
		switch {
		case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
			code = fhir.IssueTypeNotFound
		case status == http.StatusTooManyRequests:
			code = fhir.IssueTypeThrottled
		case status == http.StatusGatewayTimeout:
			code = fhir.IssueTypeTimeout
		case status < http.StatusInternalServerError:
			code = fhir.IssueTypeStructure
		}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if outcome == nil {
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, code, msg)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, outcome)
	}
}
