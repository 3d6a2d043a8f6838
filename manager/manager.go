// Package manager wraps the engine's table lifecycle operations in a
// bounded task queue. Callers get an accepted acknowledgment as soon as
// the registry record is durably written; completion is observed by
// polling DescribeTable.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/quellcloud/tessera/engine"
	"github.com/quellcloud/tessera/model"
	"github.com/quellcloud/tessera/notify"
	"github.com/quellcloud/tessera/tableinfo"
)

// ErrQueueFull is surfaced when the lifecycle task queue cannot accept
// more work.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "table lifecycle queue is full" }

type task struct {
	id   uuid.UUID
	info *tableinfo.TableInfo
	run  func(ctx context.Context, info *tableinfo.TableInfo) error
	kind string // "create" or "delete"
}

// Manager owns the lifecycle worker and delegates everything else to the
// wrapped engine.
type Manager struct {
	*engine.Engine

	sink  notify.Sink
	tasks chan task

	stop     context.CancelFunc
	stopped  sync.WaitGroup
	stopOnce sync.Once
}

// New starts the lifecycle worker. Close releases it.
func New(eng *engine.Engine, cfg engine.Config, sink notify.Sink) *Manager {
	if sink == nil {
		sink = notify.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		Engine: eng,
		sink:   sink,
		tasks:  make(chan task, cfg.AsyncQueueDepth),
		stop:   cancel,
	}
	m.stopped.Add(1)
	go m.worker(ctx)
	return m
}

// Close stops the worker after the queued tasks drain.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.tasks)
		m.stopped.Wait()
		m.stop()
	})
}

// CreateTable registers the table and schedules its physical creation,
// returning the CREATING meta immediately.
func (m *Manager) CreateTable(ctx context.Context, tenant, name string, schema model.TableSchema) (model.TableMeta, error) {
	info, err := m.Engine.RegisterTable(ctx, tenant, name, schema)
	if err != nil {
		return model.TableMeta{}, err
	}
	if err := m.enqueue(task{
		id:   uuid.New(),
		info: info,
		kind: "create",
		run:  m.Engine.CompleteCreate,
	}); err != nil {
		return model.TableMeta{}, err
	}
	return info.Meta(), nil
}

// DeleteTable transitions the table to DELETING and schedules the drop,
// returning the pre-delete snapshot. Deleting a table that is being
// created fails; a table already DELETING is acknowledged without a second
// task.
func (m *Manager) DeleteTable(ctx context.Context, tenant, name string) (model.TableMeta, error) {
	info, already, err := m.Engine.BeginDelete(ctx, tenant, name)
	if err != nil {
		return model.TableMeta{}, err
	}
	meta := info.Meta()
	if already {
		return meta, nil
	}
	if err := m.enqueue(task{
		id:   uuid.New(),
		info: info,
		kind: "delete",
		run:  m.Engine.CompleteDelete,
	}); err != nil {
		return model.TableMeta{}, err
	}
	return meta, nil
}

func (m *Manager) enqueue(t task) error {
	select {
	case m.tasks <- t:
		return nil
	default:
		return ErrQueueFull{}
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer m.stopped.Done()
	for t := range m.tasks {
		m.runTask(ctx, t)
	}
}

func (m *Manager) runTask(ctx context.Context, t task) {
	start := time.Now()
	m.sink.Notify(notify.Event{
		Type:   startEvent(t.kind),
		Tenant: t.info.Tenant,
		Table:  t.info.Name,
	})
	err := t.run(ctx, t.info)
	elapsed := time.Since(start)
	if err != nil {
		glog.Errorf("lifecycle task %s (%s %s/%s) failed after %s: %v",
			t.id, t.kind, t.info.Tenant, t.info.Name, elapsed, err)
		m.sink.Notify(notify.Event{
			Type:    errorEvent(t.kind),
			Tenant:  t.info.Tenant,
			Table:   t.info.Name,
			Elapsed: elapsed,
			Err:     err,
		})
		return
	}
	glog.V(1).Infof("lifecycle task %s (%s %s/%s) finished in %s",
		t.id, t.kind, t.info.Tenant, t.info.Name, elapsed)
	m.sink.Notify(notify.Event{
		Type:    endEvent(t.kind),
		Tenant:  t.info.Tenant,
		Table:   t.info.Name,
		Elapsed: elapsed,
	})
}

func startEvent(kind string) string {
	if kind == "create" {
		return notify.EventTableCreateStart
	}
	return notify.EventTableDeleteStart
}

func endEvent(kind string) string {
	if kind == "create" {
		return notify.EventTableCreateEnd
	}
	return notify.EventTableDeleteEnd
}

func errorEvent(kind string) string {
	if kind == "create" {
		return notify.EventTableCreateError
	}
	return notify.EventTableDeleteError
}
