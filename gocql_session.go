package cqlstore

import (
	"context"
	"time"

	"github.com/gocql/gocql"
)

// GocqlDialer implements Dialer on top of github.com/gocql/gocql
type GocqlDialer struct {
	cfg Config
}

// NewGocqlDialer creates a dialer for the hosts and credentials in cfg
func NewGocqlDialer(cfg Config) *GocqlDialer {
	return &GocqlDialer{cfg: cfg}
}

// cluster builds the gocql cluster configuration for a keyspace
func (d *GocqlDialer) cluster(keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(d.cfg.Hosts...)
	cluster.Keyspace = keyspace
	if d.cfg.HasCredentials() {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: d.cfg.User,
			Password: d.cfg.Password,
		}
	}
	if d.cfg.QueryTimeout > 0 {
		cluster.Timeout = d.cfg.QueryTimeout
	}
	if d.cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = d.cfg.ConnectTimeout
	}
	return cluster
}

// Dial creates a gocql session. gocql rejects USE statements, so selecting
// a namespace means dialing with Keyspace set.
func (d *GocqlDialer) Dial(ctx context.Context, keyspace string) (Session, error) {
	cluster := d.cluster(keyspace)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < cluster.ConnectTimeout {
			cluster.ConnectTimeout = remaining
		}
	}

	type result struct {
		session *gocql.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := cluster.CreateSession()
		done <- result{session: s, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &gocqlSession{session: r.session}, nil
	case <-ctx.Done():
		// Close the session if it shows up after we gave up on it
		go func() {
			if r := <-done; r.session != nil {
				r.session.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type gocqlSession struct {
	session *gocql.Session
}

func (s *gocqlSession) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	return s.session.Query(stmt, args...).WithContext(ctx).Exec()
}

func (s *gocqlSession) Iter(ctx context.Context, stmt string, args ...interface{}) Iter {
	return s.session.Query(stmt, args...).WithContext(ctx).Iter()
}

func (s *gocqlSession) Close() {
	s.session.Close()
}
