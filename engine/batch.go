package engine

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/quellcloud/tessera/model"
)

// BatchGet is one keyed read inside ExecuteGetBatch.
type BatchGet struct {
	Tenant          string
	Table           string
	Key             model.Item
	AttributesToGet []string
	Consistent      bool
}

// BatchGetResult carries the found items and the requests that failed and
// should be retried by the caller.
type BatchGetResult struct {
	Items       []model.Item
	Unprocessed []BatchGet
}

// BatchWrite is one put or delete inside ExecuteWriteBatch. Exactly one of
// PutItem and DeleteKey is set.
type BatchWrite struct {
	Tenant    string
	Table     string
	PutItem   model.Item
	DeleteKey model.Item
}

// ExecuteGetBatch fans the reads out with bounded concurrency. Individual
// failures do not fail the batch; the failed requests come back in
// Unprocessed. Only context cancellation aborts the whole call.
func (e *Engine) ExecuteGetBatch(ctx context.Context, requests []BatchGet) (*BatchGetResult, error) {
	items := make([]model.Item, len(requests))
	failed := make([]bool, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, req := range requests {
		g.Go(func() error {
			item, found, err := e.GetItem(gctx, req.Tenant, req.Table, req.Key,
				req.AttributesToGet, req.Consistent)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				glog.Warningf("batch get %s/%s failed: %v", req.Tenant, req.Table, err)
				failed[i] = true
				return nil
			}
			if found {
				items[i] = item
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchGetResult{}
	for i := range requests {
		if failed[i] {
			result.Unprocessed = append(result.Unprocessed, requests[i])
			continue
		}
		if items[i] != nil {
			result.Items = append(result.Items, items[i])
		}
	}
	return result, nil
}

// ExecuteWriteBatch fans unconditional puts and deletes out with bounded
// concurrency, returning the requests that failed.
func (e *Engine) ExecuteWriteBatch(ctx context.Context, requests []BatchWrite) ([]BatchWrite, error) {
	var mu sync.Mutex
	var unprocessed []BatchWrite

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for _, req := range requests {
		g.Go(func() error {
			var err error
			switch {
			case req.PutItem != nil:
				_, err = e.PutItem(gctx, req.Tenant, req.Table, req.PutItem, nil, false)
			case req.DeleteKey != nil:
				_, err = e.DeleteItem(gctx, req.Tenant, req.Table, req.DeleteKey, nil)
			default:
				err = validationf("batch write request carries neither an item nor a key")
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				glog.Warningf("batch write %s/%s failed: %v", req.Tenant, req.Table, err)
				mu.Lock()
				unprocessed = append(unprocessed, req)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return unprocessed, nil
}
