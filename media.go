package cqlstore

import (
	"context"

	"github.com/spf13/afero"
)

const (
	// MediaCollection is the collection reserved for media records
	MediaCollection = "media"

	// MediaKeySeparator joins record id and media name into the record key
	MediaKeySeparator = "_"

	defaultContentType = "application/octet-stream"
)

// MediaMetadata is stored alongside every media payload
type MediaMetadata struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Sink receives a media payload on its way out, usually an HTTP response
type Sink interface {
	SetContentType(contentType string)
	Write(p []byte) (int, error)
	NotFound()
}

// MediaStore stores binary payloads in the media collection, keyed by
// record id and name
type MediaStore struct {
	store   *Store
	fs      afero.Fs
	logger  Logger
	metrics Metrics
}

// NewMediaStore creates a media store reading staged files from fs
// (afero.NewOsFs() for the real filesystem)
func NewMediaStore(store *Store, fs afero.Fs) *MediaStore {
	return &MediaStore{
		store:   store,
		fs:      fs,
		logger:  store.logger,
		metrics: store.metrics,
	}
}

// MediaKey builds the record key for a media item
func MediaKey(recordID, name string) string {
	return recordID + MediaKeySeparator + name
}

// Save stores the staged file at stagedPath and removes it afterwards.
//
// A read failure aborts before anything is written. A store failure leaves
// the staged file in place. A removal failure after a successful write
// returns an error for which IsCommitted reports true.
func (m *MediaStore) Save(ctx context.Context, recordID, name string, meta MediaMetadata, stagedPath string) error {
	key := MediaKey(recordID, name)

	data, err := afero.ReadFile(m.fs, stagedPath)
	if err != nil {
		return Wrap(ErrIO, err, map[string]interface{}{
			"op":   "read",
			"path": stagedPath,
			"key":  key,
		})
	}

	meta.Size = int64(len(data))
	if err := m.store.Set(ctx, MediaCollection, key, data, WithMetadata(meta)); err != nil {
		return err
	}
	m.metrics.Increment(MetricMediaSaved)
	m.metrics.Histogram(MetricMediaBytes, float64(len(data)), "direction", "in")

	if err := m.fs.Remove(stagedPath); err != nil {
		m.logger.Warn("media stored but staged file not removed", "key", key, "path", stagedPath, "error", err)
		return Wrap(ErrStagingCleanup, err, map[string]interface{}{
			"path": stagedPath,
			"key":  key,
		})
	}

	m.logger.Debug("media saved", "key", key, "bytes", len(data), "content_type", meta.ContentType)
	return nil
}

// Send writes the payload and its content type to sink, or signals
// NotFound on the sink when no such media exists
func (m *MediaStore) Send(ctx context.Context, recordID, name string, sink Sink) error {
	key := MediaKey(recordID, name)

	rec, err := m.store.GetRecord(ctx, MediaCollection, key)
	if err != nil {
		return err
	}
	if rec == nil {
		m.metrics.Increment(MetricMediaNotFound)
		sink.NotFound()
		return nil
	}

	var meta MediaMetadata
	if rec.Metadata != "" {
		if err := m.store.decode(rec.Metadata, &meta, MediaCollection, key); err != nil {
			return err
		}
	}
	var payload []byte
	if err := m.store.decode(rec.Value, &payload, MediaCollection, key); err != nil {
		return err
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	sink.SetContentType(contentType)
	if _, err := sink.Write(payload); err != nil {
		return Wrap(ErrIO, err, map[string]interface{}{
			"op":  "send",
			"key": key,
		})
	}

	m.metrics.Increment(MetricMediaSent)
	m.metrics.Histogram(MetricMediaBytes, float64(len(payload)), "direction", "out")
	return nil
}

// Delete removes a media item; removing an absent item succeeds
func (m *MediaStore) Delete(ctx context.Context, recordID, name string) error {
	return m.store.Delete(ctx, MediaCollection, MediaKey(recordID, name))
}
