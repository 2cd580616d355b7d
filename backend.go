package cqlstore

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
)

// Description names this backend in capability listings
const Description = "Cassandra backend (clusterable)"

// Capabilities advertises which backend features are implemented
type Capabilities struct {
	Datastore  bool `json:"datastore"`
	Mediastore bool `json:"mediastore"`
	Cache      bool `json:"cache"`
}

// Features is the capability descriptor of this backend. The cache is
// declared but not implemented.
var Features = Capabilities{
	Datastore:  true,
	Mediastore: true,
	Cache:      false,
}

// Backend bundles the connection, collection store and media store of one
// backend instance.
//
// Example:
//
//	backend, err := cqlstore.New(cqlstore.Config{Hosts: []string{"cass1:9042"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	err = backend.Set(ctx, "records", "42", record, cqlstore.WithExpiration(600))
type Backend struct {
	cfg     Config
	conn    *ConnectionManager
	store   *Store
	media   *MediaStore
	logger  Logger
	metrics Metrics

	dialer   Dialer
	codec    Codec
	registry ProvisionRegistry
	fs       afero.Fs
}

// Option is a functional option for configuring a Backend
type Option func(*Backend) error

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(b *Backend) error {
		b.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics Metrics) Option {
	return func(b *Backend) error {
		b.metrics = metrics
		return nil
	}
}

// WithDialer replaces the gocql dialer (e.g. with a MemoryCluster)
func WithDialer(dialer Dialer) Option {
	return func(b *Backend) error {
		b.dialer = dialer
		return nil
	}
}

// WithCodec replaces the JSON payload codec
func WithCodec(codec Codec) Option {
	return func(b *Backend) error {
		b.codec = codec
		return nil
	}
}

// WithProvisionRegistry shares provisioning state, e.g. through Redis
func WithProvisionRegistry(registry ProvisionRegistry) Option {
	return func(b *Backend) error {
		b.registry = registry
		return nil
	}
}

// WithStagingFs sets the filesystem staged media files are read from
func WithStagingFs(fs afero.Fs) Option {
	return func(b *Backend) error {
		b.fs = fs
		return nil
	}
}

// New builds a Backend from cfg. Defaults are applied before validation;
// no connection is made until the first operation or Connect.
func New(cfg Config, opts ...Option) (*Backend, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{
		cfg:     cfg,
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
		codec:   JSONCodec{},
		fs:      afero.NewOsFs(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if b.dialer == nil {
		b.dialer = NewGocqlDialer(cfg)
	}

	b.conn = NewConnectionManager(cfg, b.dialer, b.logger, b.metrics)
	b.store = NewStoreWithObservability(b.conn, b.logger, b.metrics).WithCodec(b.codec)
	if b.registry != nil {
		b.store.WithProvisionRegistry(b.registry)
	}
	b.media = NewMediaStore(b.store, b.fs)
	return b, nil
}

// Config returns the effective configuration (defaults applied)
func (b *Backend) Config() Config {
	return b.cfg
}

// Connect starts (or joins) the shared connection attempt and waits for it
func (b *Backend) Connect(ctx context.Context) error {
	_, err := b.conn.Connect(ctx)
	return err
}

// Wait blocks until the connection outcome is known
func (b *Backend) Wait(ctx context.Context) error {
	return b.conn.Wait(ctx)
}

// WaitFunc calls fn with the connection outcome once it is known
func (b *Backend) WaitFunc(ctx context.Context, fn func(error)) {
	b.conn.WaitFunc(ctx, fn)
}

// State returns the connection state
func (b *Backend) State() ConnState {
	return b.conn.State()
}

// Reset allows a new connection attempt after a failure
func (b *Backend) Reset() error {
	return b.conn.Reset()
}

// Get decodes the value under key into dest; false when absent
func (b *Backend) Get(ctx context.Context, collection, key string, dest interface{}) (bool, error) {
	return b.store.Get(ctx, collection, key, dest)
}

// Select reads the records matched by sel
func (b *Backend) Select(ctx context.Context, collection string, sel KeySelector) (map[string]Record, error) {
	return b.store.Select(ctx, collection, sel)
}

// Set upserts value under key
func (b *Backend) Set(ctx context.Context, collection, key string, value interface{}, opts ...SetOption) error {
	return b.store.Set(ctx, collection, key, value, opts...)
}

// Delete removes the record under key
func (b *Backend) Delete(ctx context.Context, collection, key string) error {
	return b.store.Delete(ctx, collection, key)
}

// Store returns the collection store
func (b *Backend) Store() *Store {
	return b.store
}

// Media returns the media store
func (b *Backend) Media() *MediaStore {
	return b.media
}

// StagingFs returns the filesystem staged media files are read from
func (b *Backend) StagingFs() afero.Fs {
	return b.fs
}

// Close releases the connection
func (b *Backend) Close() error {
	return b.conn.Close()
}
