package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/pipeline"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
	"github.com/sells-group/modelgen/internal/validate"
	anthropicpkg "github.com/sells-group/modelgen/pkg/anthropic"
)

// pipelineEnv holds the store, taxonomy, services, and pipeline shared
// by the run and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Registry *taxonomy.Registry
	Jobs     *jobs.Service
	Lineage  *lineage.Service
	Pipeline *pipeline.Pipeline
	Notifier events.Notifier

	nats *events.NATSNotifier
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.nats != nil {
		pe.nats.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "modelgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initOpsStore validates config for an operational mode, then opens and
// migrates the store. Callers defer st.Close().
func initOpsStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRegistry loads the archetype taxonomy, applying the configured
// overlay when one is set.
func initRegistry() (*taxonomy.Registry, error) {
	if cfg.Taxonomy.OverlayPath == "" {
		return taxonomy.Default(), nil
	}
	reg, err := taxonomy.LoadOverlay(cfg.Taxonomy.OverlayPath)
	if err != nil {
		return nil, eris.Wrapf(err, "load taxonomy overlay %s", cfg.Taxonomy.OverlayPath)
	}
	zap.L().Info("taxonomy overlay loaded", zap.String("path", cfg.Taxonomy.OverlayPath))
	return reg, nil
}

// initNotifier assembles the event fanout: the in-process stream when
// serving, plus NATS and the webhook sink when configured.
func initNotifier(stream *events.Broadcaster) (events.Notifier, *events.NATSNotifier, error) {
	var sinks []events.Notifier
	if stream != nil {
		sinks = append(sinks, stream)
	}

	var nc *events.NATSNotifier
	if cfg.Events.NATSURL != "" {
		var err error
		nc, err = events.NewNATS(events.NATSConfig{
			URL:     cfg.Events.NATSURL,
			Subject: cfg.Events.NATSSubject,
		})
		if err != nil {
			return nil, nil, eris.Wrap(err, "connect nats")
		}
		sinks = append(sinks, nc)
		zap.L().Info("nats events enabled", zap.String("subject", cfg.Events.NATSSubject))
	}
	if cfg.Events.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhook(cfg.Events.WebhookURL))
		zap.L().Info("webhook events enabled")
	}

	if len(sinks) == 0 {
		return events.Nop{}, nil, nil
	}
	return events.Fanout(sinks...), nc, nil
}

// initPipeline validates config for mode, then builds the store, the
// taxonomy, the oracle client, and the services around them. Callers
// defer env.Close().
func initPipeline(ctx context.Context, mode string, stream *events.Broadcaster, m *metrics.Metrics) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := initRegistry()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	notifier, nc, err := initNotifier(stream)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := []anthropicpkg.Option{
		anthropicpkg.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second),
	}
	if cfg.Anthropic.RPS > 0 {
		opts = append(opts, anthropicpkg.WithRateLimit(cfg.Anthropic.RPS, cfg.Anthropic.Burst))
	}
	oracle := anthropicpkg.NewClient(cfg.Anthropic.Key, opts...)

	validator, err := validate.New(reg)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		_ = st.Close()
		return nil, eris.Wrap(err, "build validator")
	}

	lin := lineage.NewService(st)
	p := pipeline.New(pipeline.Config{
		Model:      cfg.Anthropic.Model,
		MaxTokens:  cfg.Anthropic.MaxTokens,
		MaxRetries: cfg.Pipeline.MaxRetries,
		AgentID:    cfg.Pipeline.AgentID,
		Metrics:    m,
	}, oracle, validator, reg, st, lin, notifier)

	return &pipelineEnv{
		Store:    st,
		Registry: reg,
		Jobs:     jobs.NewService(st, reg, notifier),
		Lineage:  lin,
		Pipeline: p,
		Notifier: notifier,
		nats:     nc,
	}, nil
}
