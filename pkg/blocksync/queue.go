package blocksync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daybook-app/daybook/pkg/models"
	"github.com/daybook-app/daybook/pkg/store"
)

// State describes what the operation queue is doing.
type State int32

const (
	// StateIdle: nothing buffered, nothing in flight.
	StateIdle State = iota
	// StatePending: operations buffered, flush timer armed.
	StatePending
	// StateFlushing: a flush is executing against the store.
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateFlushing:
		return "flushing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	// DefaultFlushDelay is the debounce window measured from the last
	// enqueue. Every enqueue resets it.
	DefaultFlushDelay = 250 * time.Millisecond
	// DefaultMaxQueuedOps is the hard ceiling; crossing it flushes
	// immediately without waiting out the timer.
	DefaultMaxQueuedOps = 400
)

// QueueConfig tunes the operation queue. Zero values take the defaults.
type QueueConfig struct {
	FlushDelay   time.Duration
	MaxQueuedOps int

	// OnError receives flush failures. Failed operations stay queued; the
	// queue never retries on a timer, so surfacing the error (a "failed to
	// save" state in the UI) is the retry mechanism.
	OnError func(error)

	// Notify receives state transitions, feeding the saving indicator.
	Notify func(State)
}

// Queue is an at-least-once, debounced, size-bounded write-ahead buffer in
// front of the block store.
//
// Enqueued operations wait out a debounce window, then flush in batches:
// grouped by owning page, chunked to the store's batch ceiling, DeleteAll
// fan-outs issued sequentially ahead of each chunk's atomic batch write.
// Flush is single-flight; overlapping triggers see a no-op and the new
// operations ride the next flush. A failed flush keeps its operations
// queued and reports the error; the next enqueue or an explicit Flush call
// is what retries.
type Queue struct {
	store   store.Store
	log     zerolog.Logger
	delay   time.Duration
	maxOps  int
	onError func(error)
	notify  func(State)

	timer *debounceTimer

	mu       sync.Mutex
	pending  []store.Operation
	flushing bool
}

func NewQueue(st store.Store, cfg QueueConfig, log zerolog.Logger) *Queue {
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.MaxQueuedOps <= 0 {
		cfg.MaxQueuedOps = DefaultMaxQueuedOps
	}
	q := &Queue{
		store:   st,
		log:     log,
		delay:   cfg.FlushDelay,
		maxOps:  cfg.MaxQueuedOps,
		onError: cfg.OnError,
		notify:  cfg.Notify,
	}
	q.timer = newDebounceTimer(func() {
		if err := q.Flush(context.Background()); err != nil {
			q.log.Debug().Err(err).Msg("timer flush failed")
		}
	})
	return q
}

// Enqueue appends operations and re-arms the flush timer. Crossing the
// size ceiling flushes immediately instead.
func (q *Queue) Enqueue(ops ...store.Operation) {
	if len(ops) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, ops...)
	n := len(q.pending)
	q.mu.Unlock()

	if n >= q.maxOps {
		q.timer.Stop()
		go func() {
			if err := q.Flush(context.Background()); err != nil {
				q.log.Debug().Err(err).Msg("ceiling flush failed")
			}
		}()
		return
	}
	q.timer.Reschedule(q.delay)
	q.notifyState()
}

// Len reports the number of buffered operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// State reports the queue's current position in its
// Idle -> Pending -> Flushing -> Idle cycle.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() State {
	switch {
	case q.flushing:
		return StateFlushing
	case len(q.pending) > 0:
		return StatePending
	default:
		return StateIdle
	}
}

func (q *Queue) notifyState() {
	if q.notify == nil {
		return
	}
	q.notify(q.State())
}

// Flush drains the buffer into the store. No-op while another flush is in
// flight or when the buffer is empty. On failure the unexecuted operations
// are requeued ahead of anything enqueued meanwhile.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.flushing || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.timer.Stop()
	q.notifyState()

	requeue, err := q.execute(ctx, batch)

	q.mu.Lock()
	if len(requeue) > 0 {
		q.pending = append(requeue, q.pending...)
	}
	q.flushing = false
	leftover := len(q.pending)
	q.mu.Unlock()

	if err != nil {
		q.log.Error().Err(err).Int("requeued", len(requeue)).Msg("flush failed; operations kept for retry")
		if q.onError != nil {
			q.onError(err)
		}
	} else if leftover > 0 {
		// Operations that arrived during the flush; their timer firing may
		// have been swallowed by single-flight, so re-arm.
		q.timer.Reschedule(q.delay)
	}
	q.notifyState()
	return err
}

// Close performs the best-effort teardown flush. Buffered writes are worth
// one synchronous attempt on page close; there is no guarantee.
func (q *Queue) Close(ctx context.Context) error {
	q.timer.Stop()
	return q.Flush(ctx)
}

// unit is one sequential step of a flush: either a single DeleteAll
// fan-out or an atomic batch of create/update/delete operations.
type unit struct {
	deleteAll *store.Operation
	batch     []store.Operation
}

func (q *Queue) execute(ctx context.Context, ops []store.Operation) (requeue []store.Operation, err error) {
	units := planUnits(ops, q.store.MaxBatchSize())
	for i, u := range units {
		if u.deleteAll != nil {
			if derr := q.store.DeleteChildren(ctx, u.deleteAll.PageID); derr != nil {
				return flattenUnits(units[i:]), fmt.Errorf("delete all blocks of page %s: %w", u.deleteAll.PageID, derr)
			}
			continue
		}
		if berr := q.store.BatchWrite(ctx, u.batch); berr != nil {
			return flattenUnits(units[i:]), fmt.Errorf("batch write (%d ops): %w", len(u.batch), berr)
		}
	}
	return nil, nil
}

// planUnits groups operations by owning page, drops operations superseded
// by a later DeleteAll of their page, chunks each group to the store's
// per-batch ceiling, and within each chunk orders DeleteAll fan-outs ahead
// of the batch write.
func planUnits(ops []store.Operation, maxBatch int) []unit {
	var pageOrder []models.PageID
	grouped := make(map[models.PageID][]store.Operation)
	for _, op := range ops {
		if _, seen := grouped[op.PageID]; !seen {
			pageOrder = append(pageOrder, op.PageID)
		}
		grouped[op.PageID] = append(grouped[op.PageID], op)
	}

	var units []unit
	for _, pageID := range pageOrder {
		group := grouped[pageID]
		// A DeleteAll fan-out removes every block of the page, so anything
		// enqueued before the last one is superseded; replaying it after the
		// delete would resurrect writes the editor has already discarded.
		for i := len(group) - 1; i >= 0; i-- {
			if group[i].Kind == store.OpDeleteAll {
				group = group[i:]
				break
			}
		}
		for start := 0; start < len(group); start += maxBatch {
			end := start + maxBatch
			if end > len(group) {
				end = len(group)
			}
			chunk := group[start:end]
			var batch []store.Operation
			for _, op := range chunk {
				if op.Kind == store.OpDeleteAll {
					op := op
					units = append(units, unit{deleteAll: &op})
					continue
				}
				batch = append(batch, op)
			}
			if len(batch) > 0 {
				units = append(units, unit{batch: batch})
			}
		}
	}
	return units
}

func flattenUnits(units []unit) []store.Operation {
	var ops []store.Operation
	for _, u := range units {
		if u.deleteAll != nil {
			ops = append(ops, *u.deleteAll)
			continue
		}
		ops = append(ops, u.batch...)
	}
	return ops
}
