package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"

	"github.com/pharmacie-hq/pharmacie-inventory/internal/config"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/inventory"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/logger"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/metrics"
	"github.com/pharmacie-hq/pharmacie-inventory/internal/storage"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/httpclient"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/pharmacie"
	"github.com/pharmacie-hq/pharmacie-inventory/pkg/publishers"
)

// App represents the inventory tool runtime. It wires the pharmacie client,
// change publishers, metrics and the snapshot store from configuration.
type App struct {
	cfg     *config.Config
	log     logger.Logger
	client  *pharmacie.Client
	fanout  *publishers.Fanout
	metrics *metrics.Recorder
	service *inventory.Service
}

// Option customises App construction.
type Option func(*options)

type options struct {
	httpClient httpclient.Client
}

// WithHTTPClient replaces the resty transport, mainly for tests.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New builds the runtime from config.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.NewRestyClient(cfg.HTTPTimeout)
	}

	recorder := metrics.NewRecorder()
	client, err := pharmacie.NewClient(pharmacie.Config{
		BaseURL:            cfg.APIBaseURL,
		CategoriesPageSize: cfg.CategoriesPageSize,
	},
		pharmacie.WithHTTPClient(o.httpClient),
		pharmacie.WithLogger(log),
		pharmacie.WithObserver(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("init pharmacie client: %w", err)
	}

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	service, err := inventory.NewService(client,
		inventory.WithPublisher(fanout),
		inventory.WithLogger(log),
		inventory.WithRequestsPerSecond(cfg.ExportRequestsPerSecond),
	)
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init inventory service: %w", err)
	}

	log.DebugObj("inventory client ready", "client_config", map[string]any{
		"base_url":         client.BaseURL(),
		"timeout_seconds":  int(cfg.HTTPTimeout.Seconds()),
		"publishers_count": fanout.Size(),
	})

	return &App{
		cfg:     cfg,
		log:     log,
		client:  client,
		fanout:  fanout,
		metrics: recorder,
		service: service,
	}, nil
}

// buildFanout loads the optional publishers file. A missing path yields an
// empty fanout.
func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if path == "" {
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabled := publisherReg.Enabled()
	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Service exposes the inventory service.
func (a *App) Service() *inventory.Service { return a.service }

// Config returns the runtime configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Export copies every medicament into the configured snapshot store.
func (a *App) Export(ctx context.Context, pageSize int) (int, error) {
	store, err := a.openStore()
	if err != nil {
		return 0, err
	}
	defer a.closeStore(store)

	if pageSize <= 0 {
		pageSize = a.cfg.DefaultPageSize
	}
	return a.service.Export(ctx, store, pageSize)
}

// RunExports exports immediately and then every interval until ctx ends.
func (a *App) RunExports(ctx context.Context, every time.Duration, pageSize int) error {
	if every <= 0 {
		return fmt.Errorf("export interval must be positive, got %s", every)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err := scheduler.Every(every).StartImmediately().Do(func() {
		a.scheduledExport(ctx, pageSize)
	})
	if err != nil {
		return fmt.Errorf("schedule export: %w", err)
	}

	a.log.InfoObj("export loop starting", "export_state", map[string]any{
		"interval":  every.String(),
		"page_size": pageSize,
		"storage":   a.cfg.StorageType,
	})
	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	a.log.InfoObj("export loop exiting", "reason", ctx.Err())
	return nil
}

// scheduledExport runs one export for RunExports. It reports whether the
// export completed; a cancelled run is neither logged as completed nor
// flushed to the metrics textfile.
func (a *App) scheduledExport(ctx context.Context, pageSize int) bool {
	start := time.Now()
	n, err := a.Export(ctx, pageSize)
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		a.log.DebugObj("scheduled export interrupted", "error", err)
		return false
	}
	if err != nil {
		a.log.ErrorObj("scheduled export failed", "error", err)
		return false
	}
	a.log.InfoObj("scheduled export completed", "export_meta", map[string]any{
		"saved":      n,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	a.flushMetrics()
	return true
}

// SnapshotInfo summarises the snapshot store.
type SnapshotInfo struct {
	Storage    string    `json:"storage" yaml:"storage"`
	Path       string    `json:"path,omitempty" yaml:"path,omitempty"`
	Records    int       `json:"records" yaml:"records"`
	ExportedAt time.Time `json:"exported_at,omitempty" yaml:"exported_at,omitempty"`
}

// Snapshot reports what the last export left in the store.
func (a *App) Snapshot() (SnapshotInfo, error) {
	info := SnapshotInfo{Storage: a.cfg.StorageType}
	if a.cfg.StorageType == "bbolt" {
		info.Path = a.cfg.SnapshotPath
	}

	store, err := a.openStore()
	if err != nil {
		return info, err
	}
	defer a.closeStore(store)

	if info.Records, err = store.Count(); err != nil {
		return info, fmt.Errorf("count snapshot: %w", err)
	}
	if info.ExportedAt, err = store.ExportedAt(); err != nil {
		return info, fmt.Errorf("read snapshot time: %w", err)
	}
	return info, nil
}

// SnapshotRecords returns every record held in the snapshot store, ordered
// by reference key.
func (a *App) SnapshotRecords() ([]pharmacie.Medication, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer a.closeStore(store)

	out := []pharmacie.Medication{}
	err = store.ForEach(func(reference string, raw []byte) error {
		var m pharmacie.Medication
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return fmt.Errorf("decode snapshot record %s: %w", reference, err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes metrics and releases publishers.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.flushMetrics()
	return a.fanout.Close()
}

func (a *App) openStore() (storage.Store, error) {
	store, err := storage.NewStore(a.cfg.StorageType, a.cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.log.DebugObj("storage initialized", "storage_config", map[string]any{
		"type": a.cfg.StorageType,
		"path": a.cfg.SnapshotPath,
	})
	return store, nil
}

// closeStore safely closes the storage backend, logging any errors encountered.
func (a *App) closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		a.log.ErrorObj("storage close failed", "error", err)
	}
}

func (a *App) flushMetrics() {
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.log.WarnObj("metrics textfile write failed", "error", err)
	}
}
