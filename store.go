package cqlstore

import (
	"context"
	"time"
)

// Record is a stored row: encoded value and metadata payloads under a key
type Record struct {
	Key      string
	Value    string
	Metadata string
}

// KeySelector picks the records a Select reads: every record of the
// collection, or an explicit key set
type KeySelector struct {
	all  bool
	keys []string
}

// AllKeys selects every record in the collection (full scan)
func AllKeys() KeySelector {
	return KeySelector{all: true}
}

// Keys selects the given keys. Duplicates are collapsed; order is irrelevant.
func Keys(keys ...string) KeySelector {
	return KeySelector{keys: keys}
}

// IsAll reports whether the selector is the wildcard
func (k KeySelector) IsAll() bool {
	return k.all
}

// distinct returns the keys with duplicates removed, first occurrence wins
func (k KeySelector) distinct() []string {
	seen := make(map[string]struct{}, len(k.keys))
	out := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type setOptions struct {
	expiration  int
	metadata    interface{}
	hasMetadata bool
}

// SetOption configures a Set call
type SetOption func(*setOptions)

// WithExpiration attaches a time-to-live in seconds to the write.
// The store expires the record; zero means no TTL.
func WithExpiration(seconds int) SetOption {
	return func(o *setOptions) {
		o.expiration = seconds
	}
}

// WithMetadata stores v alongside the value
func WithMetadata(v interface{}) SetOption {
	return func(o *setOptions) {
		o.metadata = v
		o.hasMetadata = true
	}
}

// Store provides get/set/delete over named collections. Every operation
// waits for the shared connection and provisions the collection first.
type Store struct {
	conn    *ConnectionManager
	prov    *provisioner
	codec   Codec
	logger  Logger
	metrics Metrics
}

// NewStore creates a store with no-op logger and metrics and the JSON codec
func NewStore(conn *ConnectionManager) *Store {
	return NewStoreWithObservability(conn, &NoOpLogger{}, &NoOpMetrics{})
}

// NewStoreWithObservability creates a new store with logging and metrics
func NewStoreWithObservability(conn *ConnectionManager, logger Logger, metrics Metrics) *Store {
	return &Store{
		conn:    conn,
		prov:    newProvisioner(conn.cfg.Namespace, conn.cfg.QueryTimeout, nil, logger, metrics),
		codec:   JSONCodec{},
		logger:  logger,
		metrics: metrics,
	}
}

// WithCodec sets the payload codec for this store
func (s *Store) WithCodec(codec Codec) *Store {
	s.codec = codec
	return s
}

// WithProvisionRegistry shares provisioning state beyond this process
func (s *Store) WithProvisionRegistry(registry ProvisionRegistry) *Store {
	s.prov.shared = registry
	return s
}

// Codec returns the payload codec
func (s *Store) Codec() Codec {
	return s.codec
}

// prepare validates the collection, waits for the connection and
// provisions the collection's table
func (s *Store) prepare(ctx context.Context, collection string) (Session, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	session, err := s.conn.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.prov.ensure(ctx, session, collection); err != nil {
		return nil, err
	}
	return session, nil
}

// Get decodes the value stored under key into dest.
// Returns false with a nil error when no record exists.
func (s *Store) Get(ctx context.Context, collection, key string, dest interface{}) (bool, error) {
	rec, err := s.GetRecord(ctx, collection, key)
	if err != nil || rec == nil {
		return false, err
	}
	if err := s.decode(rec.Value, dest, collection, key); err != nil {
		return false, err
	}
	return true, nil
}

// GetRecord reads the raw record under key, or nil when absent
func (s *Store) GetRecord(ctx context.Context, collection, key string) (*Record, error) {
	start := time.Now()
	rec, err := s.getRecord(ctx, collection, key)
	s.metrics.Timing(MetricGetDuration, time.Since(start), "collection", collection)

	if err != nil {
		s.metrics.Increment(MetricGetError, "collection", collection)
		s.logger.Debug("get failed", "collection", collection, "key", key, "error", err)
		return nil, err
	}
	s.metrics.Increment(MetricGetSuccess, "collection", collection)
	return rec, nil
}

func (s *Store) getRecord(ctx context.Context, collection, key string) (*Record, error) {
	session, err := s.prepare(ctx, collection)
	if err != nil {
		return nil, err
	}

	iter := session.Iter(ctx, selectKeyStmt(collection), key)
	var rec Record
	found := iter.Scan(&rec.Key, &rec.Value, &rec.Metadata)
	if err := iter.Close(); err != nil {
		return nil, Wrap(ErrQuery, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
		})
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// Select reads every record matched by sel, keyed by record key.
// Keys without a record are absent from the result.
func (s *Store) Select(ctx context.Context, collection string, sel KeySelector) (map[string]Record, error) {
	start := time.Now()
	records, err := s.selectRecords(ctx, collection, sel)
	s.metrics.Timing(MetricGetDuration, time.Since(start), "collection", collection)

	if err != nil {
		s.metrics.Increment(MetricGetError, "collection", collection)
		s.logger.Debug("select failed", "collection", collection, "all", sel.all, "keys", len(sel.keys), "error", err)
		return nil, err
	}
	s.metrics.Increment(MetricGetSuccess, "collection", collection)
	s.metrics.Histogram(MetricSelectResults, float64(len(records)), "collection", collection)
	return records, nil
}

func (s *Store) selectRecords(ctx context.Context, collection string, sel KeySelector) (map[string]Record, error) {
	session, err := s.prepare(ctx, collection)
	if err != nil {
		return nil, err
	}

	var (
		stmt string
		args []interface{}
	)
	if sel.all {
		stmt = selectAllStmt(collection)
	} else {
		keys := sel.distinct()
		if len(keys) == 0 {
			return map[string]Record{}, nil
		}
		stmt = selectInStmt(collection, len(keys))
		args = make([]interface{}, len(keys))
		for i, k := range keys {
			args[i] = k
		}
	}

	results := make(map[string]Record)
	iter := session.Iter(ctx, stmt, args...)
	var rec Record
	for iter.Scan(&rec.Key, &rec.Value, &rec.Metadata) {
		results[rec.Key] = rec
	}
	if err := iter.Close(); err != nil {
		return nil, Wrap(ErrQuery, err, map[string]interface{}{
			"collection": collection,
			"all":        sel.all,
		})
	}
	return results, nil
}

// Set upserts value under key
func (s *Store) Set(ctx context.Context, collection, key string, value interface{}, opts ...SetOption) error {
	start := time.Now()
	err := s.set(ctx, collection, key, value, opts)
	s.metrics.Timing(MetricSetDuration, time.Since(start), "collection", collection)

	if err != nil {
		s.metrics.Increment(MetricSetError, "collection", collection)
		s.logger.Debug("set failed", "collection", collection, "key", key, "error", err)
		return err
	}
	s.metrics.Increment(MetricSetSuccess, "collection", collection)
	return nil
}

func (s *Store) set(ctx context.Context, collection, key string, value interface{}, opts []SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.expiration < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "expiration",
			"value":  o.expiration,
			"reason": "must be non-negative",
		})
	}
	if !o.hasMetadata || o.metadata == nil {
		o.metadata = struct{}{}
	}

	payload, err := s.codec.Encode(value)
	if err != nil {
		return Wrap(ErrSerialization, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
			"field":      "value",
		})
	}
	metadata, err := s.codec.Encode(o.metadata)
	if err != nil {
		return Wrap(ErrSerialization, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
			"field":      "metadata",
		})
	}

	session, err := s.prepare(ctx, collection)
	if err != nil {
		return err
	}

	args := []interface{}{key, payload, metadata}
	if o.expiration > 0 {
		args = append(args, o.expiration)
	}
	if err := session.Exec(ctx, insertStmt(collection, o.expiration > 0), args...); err != nil {
		return Wrap(ErrQuery, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
		})
	}
	return nil
}

// Delete removes the record under key. Deleting an absent key succeeds.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	err := s.delete(ctx, collection, key)
	s.metrics.Timing(MetricDeleteDuration, time.Since(start), "collection", collection)

	if err != nil {
		s.metrics.Increment(MetricDeleteError, "collection", collection)
		s.logger.Debug("delete failed", "collection", collection, "key", key, "error", err)
		return err
	}
	s.metrics.Increment(MetricDeleteSuccess, "collection", collection)
	return nil
}

func (s *Store) delete(ctx context.Context, collection, key string) error {
	session, err := s.prepare(ctx, collection)
	if err != nil {
		return err
	}
	if err := session.Exec(ctx, deleteStmt(collection), key); err != nil {
		return Wrap(ErrQuery, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
		})
	}
	return nil
}

// decode runs the codec and classifies failures as serialization errors
func (s *Store) decode(data string, dest interface{}, collection, key string) error {
	if err := s.codec.Decode(data, dest); err != nil {
		return Wrap(ErrSerialization, err, map[string]interface{}{
			"collection": collection,
			"key":        key,
		})
	}
	return nil
}

// GetAs reads and decodes the value under key into a new T.
// Returns nil with a nil error when no record exists.
func GetAs[T any](ctx context.Context, s *Store, collection, key string) (*T, error) {
	var v T
	found, err := s.Get(ctx, collection, key, &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

// SelectAs runs Select and decodes every value into T
func SelectAs[T any](ctx context.Context, s *Store, collection string, sel KeySelector) (map[string]T, error) {
	records, err := s.Select(ctx, collection, sel)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(records))
	for key, rec := range records {
		var v T
		if err := s.decode(rec.Value, &v, collection, key); err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}
