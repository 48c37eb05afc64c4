package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tabsense/tabsense/internal/async"
	"github.com/tabsense/tabsense/internal/config"
	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/indexer"
	"github.com/tabsense/tabsense/internal/logging"
	"github.com/tabsense/tabsense/internal/tabs"
	"github.com/tabsense/tabsense/internal/telemetry"
	"github.com/tabsense/tabsense/internal/vector"
)

// indexFileName is the bbolt store under the profile directory.
const indexFileName = "index.db"

// Option configures a Daemon.
type Option func(*Daemon)

// WithEngine injects the embedding engine instead of building one from
// the profile config. Tests use it to avoid provider startup.
func WithEngine(engine embed.Engine) Option {
	return func(d *Daemon) {
		d.engineOverride = engine
	}
}

// WithAppConfig injects the application config instead of loading it
// from the profile directory.
func WithAppConfig(cfg *config.Config) Option {
	return func(d *Daemon) {
		d.appCfg = cfg
	}
}

// Daemon hosts the embedding engine, the vector index and the content
// indexer for one profile and serves them over a Unix socket. One
// daemon runs per profile, enforced by the PID file lock.
type Daemon struct {
	config     Config
	profileDir string

	server    *Server
	pidfile   *PIDFile
	compactor *CompactionManager
	recorder  *telemetry.Recorder

	registry *tabs.Registry
	bus      *tabs.Bus
	watcher  *indexer.Watcher

	engineOverride embed.Engine

	// mu guards the swappable resources and the loaded config.
	mu      sync.RWMutex
	appCfg  *config.Config
	store   *vector.Store
	indexer *indexer.ContentIndexer

	started time.Time

	// rebuildMu serializes full rebuilds; concurrent rebuild requests
	// queue rather than clearing the index out from under each other.
	rebuildMu sync.Mutex

	stopOnce sync.Once
	stopFunc context.CancelFunc
}

var _ RequestHandler = (*Daemon)(nil)

// NewDaemon creates a daemon with the given configuration.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		registry: tabs.NewRegistry(),
		bus:      tabs.NewBus(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start initializes resources and serves until ctx is cancelled.
// Returns ErrAlreadyRunning when another daemon holds the profile lock.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}

	d.profileDir = logging.ProfileDir()
	if d.appCfg == nil {
		cfg, err := config.Load(d.profileDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		d.appCfg = cfg
	}

	d.pidfile = NewPIDFile(d.config.PIDPath)
	if err := d.pidfile.Acquire(); err != nil {
		return err
	}
	defer func() { _ = d.pidfile.Release() }()

	if err := d.initResources(ctx); err != nil {
		return err
	}
	defer d.cleanup()

	d.started = time.Now()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.stopFunc = cancel
	d.mu.Unlock()

	d.compactor = NewCompactionManager(d.appConfig().Compaction, d.currentIndex)
	d.compactor.Start(serveCtx)
	defer d.compactor.Stop()

	if cfg := d.appConfig(); cfg.Telemetry.Enabled {
		rec, err := telemetry.NewRecorder(cfg.Telemetry, d.profileDir)
		if err != nil {
			slog.Warn("telemetry unavailable", slog.String("error", err.Error()))
		} else {
			d.recorder = rec
		}
	}

	d.watchConfig(serveCtx)

	if async.WasInterrupted(d.profileDir) {
		slog.Warn("Previous rebuild was interrupted; index may be incomplete")
		go d.recoverRebuild(serveCtx)
	}

	d.server = NewServer(d.config.SocketPath, d.config.Timeout, d.config.ShutdownGracePeriod)
	d.server.SetHandler(d)

	slog.Info("Daemon starting",
		slog.String("socket", d.config.SocketPath),
		slog.Int("pid", os.Getpid()))

	return d.server.ListenAndServe(serveCtx)
}

// initResources builds the engine, index and indexer. The engine load
// is synchronous: clients connecting right after startup should find a
// working daemon, not a cold one.
func (d *Daemon) initResources(ctx context.Context) error {
	engine := d.engineOverride
	if engine == nil {
		e, err := embed.NewLocalEngine(d.appConfig().Embeddings)
		if err != nil {
			return err
		}
		engine = e
	}

	slog.Info("initializing embedding engine")
	if err := engine.Initialize(ctx); err != nil {
		_ = engine.Close()
		return err
	}

	store, err := vector.OpenStore(filepath.Join(d.profileDir, indexFileName))
	if err != nil {
		_ = engine.Close()
		return err
	}

	index, err := vector.NewIndex(store, indexConfigFor(d.appConfig().Index, engine.Dimensions()))
	if err != nil {
		_ = store.Close()
		_ = engine.Close()
		return err
	}

	xer, err := indexer.New(indexer.Deps{
		Engine:    engine,
		Index:     index,
		Extractor: tabs.NewRegistryExtractor(d.registry),
		Owners:    d.registry,
		NewEngine: d.buildEngine,
		NewIndex:  d.buildIndex,
	}, d.appConfig().Indexer)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		_ = engine.Close()
		return err
	}

	d.mu.Lock()
	d.store = store
	d.indexer = xer
	d.mu.Unlock()

	d.watcher = indexer.NewWatcher(xer, d.registry)
	d.watcher.Bind(d.bus)

	slog.Info("daemon resources ready",
		slog.String("model", engine.ModelName()),
		slog.Int("dimensions", engine.Dimensions()))
	return nil
}

// buildEngine recreates the embedding delegate for reinitialization.
// The result is not yet initialized; Reinitialize loads it.
func (d *Daemon) buildEngine(_ context.Context) (embed.Engine, error) {
	if d.engineOverride != nil {
		return d.engineOverride, nil
	}
	return embed.NewLocalEngine(d.appConfig().Embeddings)
}

// buildIndex recreates the vector index at a new dimension, reusing
// the open store.
func (d *Daemon) buildIndex(dimension int) (*vector.Index, error) {
	d.mu.RLock()
	store := d.store
	d.mu.RUnlock()
	if store == nil {
		return nil, errors.InternalError("index store is not open", nil)
	}
	return vector.NewIndex(store, indexConfigFor(d.appConfig().Index, dimension))
}

// watchConfig starts the profile config watcher. Without one the
// daemon still runs, it just needs a restart to pick up changes.
func (d *Daemon) watchConfig(ctx context.Context) {
	cw, err := config.NewWatcher(d.profileDir)
	if err != nil {
		slog.Warn("config watcher unavailable", slog.String("error", err.Error()))
		return
	}

	go func() {
		if err := cw.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("config watcher stopped", slog.String("error", err.Error()))
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fresh, ok := <-cw.Updates():
				if !ok {
					return
				}
				d.onConfigChange(ctx, fresh)
			case err, ok := <-cw.Errors():
				if !ok {
					return
				}
				slog.Warn("config watcher error", slog.String("error", err.Error()))
			}
		}
	}()
}

// onConfigChange applies a freshly reloaded profile config. An
// embeddings change reinitializes the indexer, which reloads the model
// and rebuilds the index if the output dimension moved. Other sections
// apply to future operations; compaction scheduling keeps its startup
// settings until restart.
func (d *Daemon) onConfigChange(ctx context.Context, fresh *config.Config) {
	d.mu.Lock()
	previous := d.appCfg
	d.appCfg = fresh
	d.mu.Unlock()

	slog.Info("configuration reloaded")

	if previous != nil && previous.Embeddings == fresh.Embeddings {
		return
	}

	xer := d.currentIndexer()
	if xer == nil {
		return
	}
	slog.Info("embeddings configuration changed, reinitializing")
	if err := xer.Reinitialize(ctx); err != nil {
		slog.Error("reinitialization after config change failed",
			slog.String("error", err.Error()))
	}
}

func (d *Daemon) appConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.appCfg
}

func (d *Daemon) currentIndexer() *indexer.ContentIndexer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.indexer
}

// currentEngine resolves the engine through the indexer;
// reinitialization may have swapped it since startup.
func (d *Daemon) currentEngine() embed.Engine {
	xer := d.currentIndexer()
	if xer == nil {
		return nil
	}
	return xer.Engine()
}

// currentIndex resolves the index the same way, for the compactor.
func (d *Daemon) currentIndex() *vector.Index {
	xer := d.currentIndexer()
	if xer == nil {
		return nil
	}
	return xer.Index()
}

// HandleEngineInit initializes the engine on behalf of a remote proxy.
// Idempotent when already loaded.
func (d *Daemon) HandleEngineInit(ctx context.Context) (embed.EngineStatus, error) {
	eng := d.currentEngine()
	if eng == nil {
		return embed.EngineStatus{}, errors.NotReadyError("embedding engine not initialized", nil)
	}
	if err := eng.Initialize(ctx); err != nil {
		return embed.EngineStatus{}, err
	}
	return engineStatusOf(eng), nil
}

// HandleEngineStatus reports the engine snapshot.
func (d *Daemon) HandleEngineStatus(_ context.Context) (embed.EngineStatus, error) {
	eng := d.currentEngine()
	if eng == nil {
		return embed.EngineStatus{}, errors.NotReadyError("embedding engine not initialized", nil)
	}
	return engineStatusOf(eng), nil
}

// HandleEmbed embeds one text.
func (d *Daemon) HandleEmbed(ctx context.Context, params embed.EmbedParams) (embed.EmbedResult, error) {
	eng := d.currentEngine()
	if eng == nil {
		return embed.EmbedResult{}, errors.NotReadyError("embedding engine not initialized", nil)
	}

	vec, err := eng.Embedding(ctx, params.Text)
	if err != nil {
		return embed.EmbedResult{}, err
	}
	return embed.EmbedResult{
		Embedding:  vec,
		Model:      eng.ModelName(),
		Dimensions: eng.Dimensions(),
	}, nil
}

// HandleEmbedBatch embeds a batch of texts.
func (d *Daemon) HandleEmbedBatch(ctx context.Context, params embed.EmbedBatchParams) (embed.EmbedBatchResult, error) {
	eng := d.currentEngine()
	if eng == nil {
		return embed.EmbedBatchResult{}, errors.NotReadyError("embedding engine not initialized", nil)
	}

	vecs, err := eng.EmbeddingBatch(ctx, params.Texts)
	if err != nil {
		return embed.EmbedBatchResult{}, err
	}
	return embed.EmbedBatchResult{
		Embeddings: vecs,
		Model:      eng.ModelName(),
		Dimensions: eng.Dimensions(),
	}, nil
}

// HandleSearch runs a semantic search over the indexed tabs. A search
// interrupts pending compaction and resets the idle timer.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]indexer.Result, error) {
	xer := d.currentIndexer()
	if xer == nil {
		return nil, errors.NotReadyError("content indexer not initialized", nil)
	}

	if d.compactor != nil {
		d.compactor.InterruptCompaction()
	}

	start := time.Now()
	results, err := xer.Search(ctx, params.Query, params.TopK)
	if err != nil {
		return nil, err
	}

	if d.compactor != nil {
		d.compactor.OnSearchComplete()
	}
	if d.recorder != nil {
		d.recorder.Observe(params.Query, time.Since(start), len(results))
		// The engine memoized the query vector during the search, so
		// this is a cache lookup, not a second model call.
		if eng := d.currentEngine(); eng != nil {
			if vec, err := eng.Embedding(ctx, params.Query); err == nil {
				d.recorder.ObserveEmbedding(vec)
			}
		}
	}
	return results, nil
}

// HandleIndexDocument indexes one tab from the registry.
func (d *Daemon) HandleIndexDocument(ctx context.Context, params DocumentParams) error {
	xer := d.currentIndexer()
	if xer == nil {
		return errors.NotReadyError("content indexer not initialized", nil)
	}
	return xer.IndexDocument(ctx, params.OwnerID)
}

// HandleRemoveDocument drops one tab from the index.
func (d *Daemon) HandleRemoveDocument(ctx context.Context, params DocumentParams) error {
	xer := d.currentIndexer()
	if xer == nil {
		return errors.NotReadyError("content indexer not initialized", nil)
	}
	return xer.RemoveDocument(ctx, params.OwnerID)
}

// HandleRebuild re-indexes every registered tab. Serialized; a second
// rebuild request waits for the first.
func (d *Daemon) HandleRebuild(ctx context.Context) error {
	xer := d.currentIndexer()
	if xer == nil {
		return errors.NotReadyError("content indexer not initialized", nil)
	}

	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()
	return d.runRebuild(ctx, xer)
}

// runRebuild executes one full rebuild through an async.Rebuilder, so
// the profile rebuild lock is held and the status file stays current
// for pollers in other processes. Callers hold rebuildMu.
func (d *Daemon) runRebuild(ctx context.Context, xer *indexer.ContentIndexer) error {
	rb := async.NewRebuilder(async.Config{ProfileDir: d.profileDir})
	rb.RebuildFunc = func(ctx context.Context, progress *async.Progress) error {
		return xer.RebuildAll(ctx, indexer.WithRebuildProgress(func(done, total int) {
			progress.SetStage(async.StageIndexing, total)
			progress.UpdateTabs(done)
		}))
	}
	rb.Start(ctx)
	return rb.Wait()
}

// recoverRebuild re-runs a full rebuild after a crashed one left its
// lock behind. The index may be missing documents the dead rebuild
// cleared and never rewrote, so the safe move is to rebuild again.
// Runs in the background; search serves the partial index meanwhile.
func (d *Daemon) recoverRebuild(ctx context.Context) {
	xer := d.currentIndexer()
	if xer == nil {
		return
	}

	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()
	if err := d.runRebuild(ctx, xer); err != nil {
		slog.Warn("Recovery rebuild failed", slog.String("error", err.Error()))
	}
}

// HandleStats reports index totals. Before initialization completes it
// reports zero counts with Ready false rather than failing.
func (d *Daemon) HandleStats(_ context.Context) (indexer.Stats, error) {
	xer := d.currentIndexer()
	if xer == nil {
		return indexer.Stats{}, nil
	}
	return xer.Stats(), nil
}

// HandleTabEvent publishes one lifecycle event to the bus. The
// lifecycle watcher owns the registry bookkeeping and the settle
// debounce.
func (d *Daemon) HandleTabEvent(_ context.Context, params TabEventParams) error {
	ev, err := params.Event()
	if err != nil {
		return errors.ValidationError(err.Error(), err)
	}
	d.bus.Publish(ev)
	return nil
}

// GetStatus reports the daemon's engine and index state. The server
// overlays process-level fields for socket responses; direct callers
// get the full picture here.
func (d *Daemon) GetStatus() StatusResult {
	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Socket:  d.config.SocketPath,
	}
	if !d.started.IsZero() {
		status.Uptime = time.Since(d.started).Round(time.Second).String()
	}

	if eng := d.currentEngine(); eng != nil {
		status.Engine = engineStatusOf(eng)
	} else {
		status.Engine = embed.EngineStatus{State: embed.StateUninitialized.String()}
	}
	if xer := d.currentIndexer(); xer != nil {
		status.Index = xer.Stats()
	}
	return status
}

// RequestShutdown stops the daemon from an RPC. Asynchronous so the
// shutdown response still reaches the client before the socket closes.
func (d *Daemon) RequestShutdown() {
	go d.stop()
}

func (d *Daemon) stop() {
	d.stopOnce.Do(func() {
		slog.Info("Shutdown requested")
		d.mu.RLock()
		cancel := d.stopFunc
		d.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
	})
}

// cleanup releases daemon resources. Reinitialization may have swapped
// the engine or index since startup, so the current delegates come
// from the indexer, not from what initResources created.
func (d *Daemon) cleanup() {
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}

	d.mu.Lock()
	xer := d.indexer
	store := d.store
	d.indexer = nil
	d.store = nil
	d.mu.Unlock()

	if xer != nil {
		if err := xer.Index().Close(); err != nil {
			slog.Warn("Failed to close index", slog.String("error", err.Error()))
		}
		if err := xer.Engine().Close(); err != nil {
			slog.Warn("Failed to close engine", slog.String("error", err.Error()))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close index store", slog.String("error", err.Error()))
		}
	}
	if d.recorder != nil {
		if err := d.recorder.Close(); err != nil {
			slog.Warn("Failed to close telemetry recorder", slog.String("error", err.Error()))
		}
		d.recorder = nil
	}

	d.registry.Clear()
}

// engineStatusOf snapshots an engine. LocalEngine carries memo detail;
// other implementations synthesize from the interface.
func engineStatusOf(eng embed.Engine) embed.EngineStatus {
	if le, ok := eng.(*embed.LocalEngine); ok {
		return le.Status()
	}
	return embed.EngineStatus{
		State:      eng.State().String(),
		Model:      eng.ModelName(),
		Dimensions: eng.Dimensions(),
	}
}

// indexConfigFor maps the configured index section onto vector.Config
// at the engine's output dimension.
func indexConfigFor(cfg config.IndexConfig, dimension int) vector.Config {
	vcfg := vector.DefaultConfig(dimension)
	vcfg.Capacity = cfg.Capacity
	vcfg.RetentionDays = cfg.RetentionDays
	vcfg.AutoCleanup = cfg.AutoCleanup
	if cfg.M > 0 {
		vcfg.M = cfg.M
	}
	if cfg.EfConstruction > 0 {
		vcfg.EfConstruction = cfg.EfConstruction
	}
	if cfg.EfSearch > 0 {
		vcfg.EfSearch = cfg.EfSearch
	}
	if cfg.PersistEvery > 0 {
		vcfg.PersistEvery = cfg.PersistEvery
	}
	return vcfg
}
