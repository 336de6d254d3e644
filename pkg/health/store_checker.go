package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/store"
)

// StoreChecker verifies the relational store is reachable by running a
// cheap read against it.
type StoreChecker struct {
	Store store.Store
}

func NewStoreChecker(s store.Store) *StoreChecker {
	return &StoreChecker{Store: s}
}

func (c *StoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if _, err := c.Store.CountCrates(ctx); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("store query failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "store reachable", CheckedAt: start, Duration: time.Since(start)}
}

func (c *StoreChecker) Type() CheckType { return CheckTypeStore }

// ObjectStoreChecker verifies the object store is reachable by probing
// a sentinel key that need not exist.
type ObjectStoreChecker struct {
	Blobs *objectstore.Facade
}

func NewObjectStoreChecker(b *objectstore.Facade) *ObjectStoreChecker {
	return &ObjectStoreChecker{Blobs: b}
}

func (c *ObjectStoreChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if _, err := c.Blobs.Exists(ctx, "__healthcheck__"); err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("object store probe failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "object store reachable", CheckedAt: start, Duration: time.Since(start)}
}

func (c *ObjectStoreChecker) Type() CheckType { return CheckTypeObjectStore }
