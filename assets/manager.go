// Package assets owns the ordered set of uploaded images of one form and
// runs selected files through validation, compression and upload.
package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/storefront-io/go-assetkit/assets/compression"
	"github.com/storefront-io/go-assetkit/assets/network"
	"github.com/storefront-io/go-assetkit/assets/validation"
	"github.com/storefront-io/go-assetkit/media"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "github.com/storefront-io/go-assetkit/assets"

	cleanupConcurrency    = 3
	defaultCleanupTimeout = 30 * time.Second
)

// Mode selects how a batch is merged into the set.
type Mode int

const (
	// ModeDefault appends, or replaces when Config.ReplaceMode is set.
	ModeDefault Mode = iota
	ModeAppend
	// ModeReplace discards the held assets once at least one new upload succeeded.
	ModeReplace
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeReplace:
		return "replace"
	}
	return "default"
}

// Compressor re-encodes a file before upload.
type Compressor interface {
	Compress(ctx context.Context, file media.File) (media.File, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSeed loads the assets persisted on the edited entity.
func WithSeed(seed []media.Asset) Option {
	return func(m *Manager) {
		m.seed = seed
	}
}

// WithCompressor replaces the imaging based compressor.
func WithCompressor(compressor Compressor) Option {
	return func(m *Manager) {
		m.compressor = compressor
	}
}

// WithProgressFunc registers a callback receiving session snapshots.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// WithTracer ...
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithCleanupTimeout bounds each background remote delete.
func WithCleanupTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.cleanupTimeout = timeout
	}
}

// Manager is the stateful core of an upload context. Local state is
// authoritative; remote deletes run in the background and are only logged.
type Manager struct {
	config         Config
	store          network.Store
	validator      *validation.Validator
	compressor     Compressor
	logger         log.Logger
	tracer         trace.Tracer
	onProgress     ProgressFunc
	cleanupTimeout time.Duration
	seed           []media.Asset

	mu      sync.Mutex
	set     *AssetSet
	session Session

	cleanup sync.WaitGroup
}

// NewManager creates a Manager uploading into store.
func NewManager(config Config, store network.Store, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}

	m := &Manager{
		config:         config,
		store:          store,
		validator:      validation.New(config.validationConfig()),
		logger:         log.NewLogger(),
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.compressor == nil {
		m.compressor = compression.New(config.compressionPolicy(), nil, m.logger)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}

	m.set = newAssetSet(config.MaxAssets)
	m.set.load(m.seed, m.logger)
	m.seed = nil

	return m, nil
}

// Assets returns the held assets in display order.
func (m *Manager) Assets() []media.Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Assets()
}

// Primary returns the primary asset, if the set is not empty.
func (m *Manager) Primary() (media.Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.Primary()
}

// Session returns a snapshot of the current or last session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.snapshot()
}

// WaitForCleanup blocks until every scheduled remote delete finished.
func (m *Manager) WaitForCleanup() {
	m.cleanup.Wait()
}

// SubmitBatch validates, compresses and uploads files one at a time and
// merges the uploaded assets into the set. Per-file failures are reported in
// the result; an error is returned only when nothing entered the set.
func (m *Manager) SubmitBatch(ctx context.Context, files []*media.File, mode Mode) (*BatchResult, error) {
	if len(files) == 0 {
		return &BatchResult{}, nil
	}
	replace := mode == ModeReplace || (mode == ModeDefault && m.config.ReplaceMode)

	m.mu.Lock()
	if m.session.Active {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.session = Session{Active: true}
	snap := validation.Snapshot{
		Count:   m.set.Len(),
		Names:   m.set.names(),
		Replace: replace,
	}
	m.mu.Unlock()
	m.notify()

	ctx, span := m.tracer.Start(ctx, "assets.SubmitBatch", trace.WithAttributes(
		attribute.Int("batch.size", len(files)),
		attribute.Bool("batch.replace", replace),
	))
	defer span.End()

	result := &BatchResult{Submitted: len(files)}
	defer m.finish()

	accepted, verrs := m.validator.ValidateBatch(files, snap)
	for _, verr := range verrs {
		m.logger.Warnf("%s", verr)
		m.fail(result, verr)
	}

	m.logger.Infof("Processing %d of %d selected image(s)", len(accepted), len(files))

	compressed := make([]media.File, 0, len(accepted))
	for i, file := range accepted {
		m.setCurrent(file.Name)
		out, err := m.compressor.Compress(ctx, file)
		m.advance(float64(i+1) / float64(len(accepted)) * compressionShare)
		if err != nil {
			m.logger.Warnf("%s", err)
			m.fail(result, err)
			continue
		}
		compressed = append(compressed, out)
	}
	m.advance(compressionShare)

	if len(compressed) == 0 {
		return m.noResults(span, result)
	}

	uploaded := make([]media.Asset, 0, len(compressed))
	for i, file := range compressed {
		m.setCurrent(file.Name)
		asset, err := m.upload(ctx, file)
		m.advance(compressionShare + float64(i+1)/float64(len(compressed))*uploadShare)
		if err != nil {
			m.fail(result, err)
			continue
		}
		uploaded = append(uploaded, asset)
	}

	if len(uploaded) == 0 {
		if replace && snap.Count > 0 {
			m.logger.Warnf("No replacement was uploaded, keeping the %d held image(s)", snap.Count)
		}
		return m.noResults(span, result)
	}

	var stale []media.Asset
	var rejected []rejectedAsset
	m.mu.Lock()
	if replace {
		result.Uploaded, stale, rejected = m.set.replace(uploaded)
	} else {
		result.Uploaded, rejected = m.set.append(uploaded)
	}
	m.mu.Unlock()

	for _, r := range rejected {
		m.fail(result, errors.New(r.reason))
		if r.orphan {
			stale = append(stale, r.asset)
		}
	}
	m.scheduleCleanup(stale)

	if len(result.Uploaded) == 0 {
		return m.noResults(span, result)
	}

	span.SetAttributes(attribute.Int("batch.uploaded", len(result.Uploaded)))
	m.logger.Donef("%s", result.Summary())
	return result, nil
}

func (m *Manager) upload(ctx context.Context, file media.File) (media.Asset, error) {
	ctx, span := m.tracer.Start(ctx, "assets.upload", trace.WithAttributes(
		attribute.String("file.name", file.Name),
		attribute.Int64("file.size", file.Size),
	))
	defer span.End()

	asset, err := m.store.Upload(ctx, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return media.Asset{}, err
	}
	if asset.SourceFileName == "" {
		asset.SourceFileName = file.Name
	}
	return asset, nil
}

func (m *Manager) noResults(span trace.Span, result *BatchResult) (*BatchResult, error) {
	err := &BatchError{Result: result}
	span.SetStatus(codes.Error, err.Error())
	m.logger.Errorf("%s", err)
	return result, err
}

// Remove drops the asset with the given URL and deletes it remotely in the background.
func (m *Manager) Remove(url string) error {
	m.mu.Lock()
	removed, err := m.set.remove(url)
	m.mu.Unlock()
	if err != nil {
		m.logger.Debugf("Remove: %s", err)
		return err
	}

	m.logger.Debugf("Removed %s", url)
	m.scheduleCleanup([]media.Asset{removed})
	return nil
}

// SetPrimary makes the asset with the given URL the only primary one.
func (m *Manager) SetPrimary(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.set.setPrimary(url); err != nil {
		m.logger.Debugf("SetPrimary: %s", err)
		return err
	}
	return nil
}

// Reorder moves the asset at index from to index to. Primary is a flag on the
// asset, so it moves along.
func (m *Manager) Reorder(from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set.reorder(from, to)
}

func (m *Manager) scheduleCleanup(assets []media.Asset) {
	if len(assets) == 0 {
		return
	}

	m.cleanup.Add(1)
	go func() {
		defer m.cleanup.Done()

		g := new(errgroup.Group)
		g.SetLimit(cleanupConcurrency)
		for _, asset := range assets {
			asset := asset
			if asset.RemoteID == "" {
				m.logger.Debugf("%s has no remote id, skipping remote delete", asset.URL)
				continue
			}
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), m.cleanupTimeout)
				defer cancel()

				if err := m.store.Delete(ctx, asset.RemoteID); err != nil {
					m.logger.Warnf("Failed to delete %s from the remote store: %s", asset.URL, err)
					return nil
				}
				m.logger.Debugf("Deleted %s from the remote store", asset.URL)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (m *Manager) setCurrent(name string) {
	m.mu.Lock()
	m.session.Current = name
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) advance(progress float64) {
	m.mu.Lock()
	m.session.advance(progress)
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) fail(result *BatchResult, err error) {
	result.Errors = append(result.Errors, err.Error())

	m.mu.Lock()
	m.session.Errors = append(m.session.Errors, err.Error())
	m.mu.Unlock()
	m.notify()
}

// finish resets the session to idle and keeps its errors.
func (m *Manager) finish() {
	m.mu.Lock()
	m.session.advance(100)
	m.mu.Unlock()
	m.notify()

	m.mu.Lock()
	m.session = Session{Errors: m.session.Errors}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) notify() {
	if m.onProgress == nil {
		return
	}
	m.onProgress(m.Session())
}
