package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"idmcore/internal/config"
	"idmcore/internal/core"
	"idmcore/internal/schema"
)

// app holds the resources a command runs against.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	records  core.RecordStore
	engine   *core.Server
	registry *prometheus.Registry
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	records, err := core.OpenRecordStore(ctx, cfg.Storage, log.Named("records"))
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	opts := []core.Option{
		core.WithLogger(core.NewZapLogger(log.Named("core"))),
		core.WithPipeline(core.DefaultPipeline(cfg.Session.GraceWindow)),
	}
	a := &app{cfg: cfg, log: log, records: records}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(a.registry, cfg.Metrics.Namespace)
		if err != nil {
			_ = records.Close()
			return nil, err
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	a.engine = core.NewServer(records, schema.NewStore(), opts...)
	log.Debug("opened", zap.String("storage", string(cfg.Storage.Driver)))
	return a, nil
}

func (a *app) Close() error {
	var err error
	if a.registry != nil {
		err = prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry)
	}
	err = errors.Join(err, a.records.Close())
	_ = a.log.Sync()
	return err
}
