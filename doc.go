// Package cqlstore is a document-store backend over Cassandra (or any CQL
// compatible database): get, set and delete of encoded values in named
// collections, plus a media store for binary payloads.
//
// # Overview
//
// Each Backend owns exactly one session. The first operation (or an explicit
// Connect) starts the connect sequence: a bootstrap session creates the
// namespace keyspace if it is missing, then a session bound to that keyspace
// is dialed. Every concurrent and later caller waits on the same attempt and
// sees the same outcome. A failed attempt stays failed until Reset is called.
//
// Collections are tables with a fixed layout:
//
//	CREATE TABLE IF NOT EXISTS <collection> (key text PRIMARY KEY, value text, metadata text)
//
// The table is created on first touch. Once created, the collection is
// remembered in-process (and optionally in Redis through
// RedisProvisionRegistry) so later calls skip the round-trip.
//
// # Quick Start
//
//	backend, err := cqlstore.New(cqlstore.Config{
//	    Hosts:     []string{"cass1:9042", "cass2:9042"},
//	    Namespace: "biblionarrator",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	// Upsert with a one hour TTL and metadata
//	err = backend.Set(ctx, "records", "r1", record,
//	    cqlstore.WithExpiration(3600),
//	    cqlstore.WithMetadata(map[string]string{"source": "import"}))
//
//	// Single key
//	rec, err := cqlstore.GetAs[MyRecord](ctx, backend.Store(), "records", "r1")
//
//	// Key set or full scan
//	some, err := cqlstore.SelectAs[MyRecord](ctx, backend.Store(), "records", cqlstore.Keys("r1", "r2"))
//	all, err := cqlstore.SelectAs[MyRecord](ctx, backend.Store(), "records", cqlstore.AllKeys())
//
// # Media
//
// MediaStore keeps binary payloads in the "media" collection under
// "<recordID>_<name>". Save reads an uploaded file from a staging path and
// removes it once stored; Send writes the payload and its content type to a
// Sink such as NewHTTPSink(w).
//
//	err := backend.Media().Save(ctx, "r1", "cover.png",
//	    cqlstore.MediaMetadata{ContentType: "image/png"}, "/tmp/upload-123")
//	if cqlstore.IsCommitted(err) {
//	    // stored, but the staged file is still on disk
//	}
//
// # Testing
//
// MemoryCluster implements Dialer without a database and understands the
// statements this package emits, including TTLs against an injectable clock:
//
//	cluster := cqlstore.NewMemoryCluster()
//	backend, _ := cqlstore.New(cqlstore.Config{}, cqlstore.WithDialer(cluster))
//
// # Observability
//
//	logger, _ := cqlstore.NewProductionZapLogger("info")
//	metrics := cqlstore.NewPrometheusMetrics(prometheus.NewRegistry())
//	backend, _ := cqlstore.New(cfg, cqlstore.WithLogger(logger), cqlstore.WithMetrics(metrics))
package cqlstore
