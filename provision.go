package cqlstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

// ProvisionRegistry remembers which collections already have their table,
// so repeat operations skip the CREATE TABLE round-trip.
// Lookups are advisory: provisioning is idempotent, so a stale or failing
// registry only costs an extra round-trip.
type ProvisionRegistry interface {
	IsProvisioned(ctx context.Context, namespace, collection string) (bool, error)
	MarkProvisioned(ctx context.Context, namespace, collection string) error
}

// MemoryProvisionRegistry is the per-process registry
type MemoryProvisionRegistry struct {
	tables *xsync.MapOf[string, struct{}]
}

func NewMemoryProvisionRegistry() *MemoryProvisionRegistry {
	return &MemoryProvisionRegistry{tables: xsync.NewMapOf[string, struct{}]()}
}

func (r *MemoryProvisionRegistry) IsProvisioned(_ context.Context, namespace, collection string) (bool, error) {
	_, ok := r.tables.Load(namespace + "." + collection)
	return ok, nil
}

func (r *MemoryProvisionRegistry) MarkProvisioned(_ context.Context, namespace, collection string) error {
	r.tables.Store(namespace+"."+collection, struct{}{})
	return nil
}

// Len returns the number of remembered collections
func (r *MemoryProvisionRegistry) Len() int {
	return r.tables.Size()
}

// provisioner runs "create if absent" for collections. Concurrent calls for
// the same collection share one round-trip, which runs detached from any
// single caller's context and is bounded by timeout instead.
type provisioner struct {
	namespace string
	timeout   time.Duration
	local     *MemoryProvisionRegistry
	shared    ProvisionRegistry // optional, e.g. Redis
	group     singleflight.Group
	logger    Logger
	metrics   Metrics
}

func newProvisioner(namespace string, timeout time.Duration, shared ProvisionRegistry, logger Logger, metrics Metrics) *provisioner {
	return &provisioner{
		namespace: namespace,
		timeout:   timeout,
		local:     NewMemoryProvisionRegistry(),
		shared:    shared,
		logger:    logger,
		metrics:   metrics,
	}
}

// ensure makes sure collection's table exists in session's keyspace.
// ctx bounds only this caller's wait.
func (p *provisioner) ensure(ctx context.Context, session Session, collection string) error {
	if ok, _ := p.local.IsProvisioned(ctx, p.namespace, collection); ok {
		return nil
	}

	ch := p.group.DoChan(collection, func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)
		if p.timeout > 0 {
			var cancel context.CancelFunc
			flightCtx, cancel = context.WithTimeout(flightCtx, p.timeout)
			defer cancel()
		}
		return nil, p.provision(flightCtx, session, collection)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *provisioner) provision(ctx context.Context, session Session, collection string) error {
	if p.shared != nil {
		ok, err := p.shared.IsProvisioned(ctx, p.namespace, collection)
		if err != nil {
			p.logger.Warn("provision registry lookup failed", "collection", collection, "error", err)
		} else if ok {
			p.metrics.Increment(MetricProvisionSkip, "collection", collection)
			return p.local.MarkProvisioned(ctx, p.namespace, collection)
		}
	}

	p.metrics.Increment(MetricProvisionRun, "collection", collection)
	if err := session.Exec(ctx, createTableStmt(collection)); err != nil {
		p.metrics.Increment(MetricProvisionError, "collection", collection)
		return Wrap(ErrProvisioning, err, map[string]interface{}{
			"collection": collection,
			"namespace":  p.namespace,
		})
	}
	p.logger.Debug("collection provisioned", "collection", collection, "namespace", p.namespace)

	if p.shared != nil {
		if err := p.shared.MarkProvisioned(ctx, p.namespace, collection); err != nil {
			p.logger.Warn("provision registry update failed", "collection", collection, "error", err)
		}
	}
	return p.local.MarkProvisioned(ctx, p.namespace, collection)
}
