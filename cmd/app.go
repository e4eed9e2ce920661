package main

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/config"
	"tenderscan/scanner-service/internal/extractor"
	"tenderscan/scanner-service/internal/extractor/builtin"
	"tenderscan/scanner-service/internal/logging"
	"tenderscan/scanner-service/internal/metrics"
	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/pagination"
	"tenderscan/scanner-service/internal/scan"
	"tenderscan/scanner-service/internal/scoring"
	"tenderscan/scanner-service/internal/session"
)

// app is everything the commands share.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	portals  []model.PortalDescriptor
	scoring  scoring.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *http.Client
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	portals, err := config.LoadPortals(cfg.PortalsFile, cfg.DefaultMaxPages)
	if err != nil {
		return nil, err
	}
	sc, err := scoring.LoadConfig(cfg.ScoringFile)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		logger:   logger,
		portals:  portals,
		scoring:  sc,
		registry: reg,
		metrics:  metrics.New(reg),
		client:   &http.Client{Timeout: cfg.RequestTimeout, Transport: newTransport(cfg)},
	}, nil
}

// orchestrator builds extractors for portals and an orchestrator saving to
// sink.
func (a *app) orchestrator(portals []model.PortalDescriptor, sink scan.Sink) (*scan.Orchestrator, error) {
	extractors, err := extractor.NewRegistry(portals, builtin.Factories(), extractor.Deps{
		Client: a.client,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}

	driver := pagination.NewDriver(pagination.Options{
		PolitenessDelay:        a.cfg.PolitenessDelay,
		RequestTimeout:         a.cfg.RequestTimeout,
		MaxConsecutiveFailures: a.cfg.MaxConsecutiveFailures,
		DefaultMaxPages:        a.cfg.DefaultMaxPages,
		Metrics:                a.metrics,
		Logger:                 a.logger.Named("pagination"),
	})

	return scan.New(scan.Options{
		Registry:            extractors,
		Sessions:            session.NewPool(a.cfg.BrowserSlots, a.cfg.RequestTimeout).WithTransport(a.client.Transport),
		Client:              a.client,
		Scoring:             a.scoring,
		Driver:              driver,
		MaxConcurrency:      a.cfg.MaxConcurrentPortals,
		StrategyConcurrency: a.cfg.StrategyConcurrency,
		Timeout:             a.cfg.ScanTimeout,
		SinkTimeout:         a.cfg.SinkTimeout,
		Sink:                sink,
		Metrics:             a.metrics,
		Logger:              a.logger,
	})
}

// newTransport is shared by the plain client and every pooled session so
// idle connections to a portal are reused across strategies.
func newTransport(cfg *config.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = cfg.MaxConcurrentPortals + cfg.BrowserSlots
	t.ResponseHeaderTimeout = cfg.RequestTimeout
	return t
}
