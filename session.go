package cqlstore

import "context"

// Session is the slice of a CQL driver session this package relies on.
// Implementations must be safe for concurrent use.
type Session interface {
	// Exec runs a statement that returns no rows
	Exec(ctx context.Context, stmt string, args ...interface{}) error

	// Iter runs a query and returns an iterator over its rows.
	// Query errors surface from Iter.Close.
	Iter(ctx context.Context, stmt string, args ...interface{}) Iter

	// Close releases the session's connections
	Close()
}

// Iter walks the rows of a query result
type Iter interface {
	// Scan copies the next row's columns into dest, returning false when
	// the rows are exhausted or an error occurred
	Scan(dest ...interface{}) bool

	// Close releases the iterator and returns the first error encountered
	Close() error
}

// Dialer opens sessions against the cluster. An empty keyspace yields a
// bootstrap session used for keyspace creation.
type Dialer interface {
	Dial(ctx context.Context, keyspace string) (Session, error)
}
