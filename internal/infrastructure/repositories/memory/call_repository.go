// Package memory provides an in-process document store used for single-node
// runs and tests. Change notifications are delivered asynchronously on a
// per-subscriber queue, ordered per document, mirroring the delivery
// guarantees of the managed store the redis adapter fronts.
package memory

import (
	"context"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/utils"
)

// notifier delivers queued values to one subscriber on its own goroutine so
// a store write never re-enters the writer's lock through a callback.
type notifier[T any] struct {
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	done   chan struct{}
	closed bool
	fn     func(T)
}

func newNotifier[T any](ctx context.Context, fn func(T)) *notifier[T] {
	n := &notifier[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		fn:   fn,
	}
	go n.run(ctx)
	return n
}

func (n *notifier[T]) push(v T) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, v)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier[T]) run(ctx context.Context) {
	for {
		select {
		case <-n.done:
			return
		case <-ctx.Done():
			return
		case <-n.wake:
			for {
				n.mu.Lock()
				if len(n.queue) == 0 {
					n.mu.Unlock()
					break
				}
				v := n.queue[0]
				n.queue = n.queue[1:]
				n.mu.Unlock()
				n.fn(v)
			}
		}
	}
}

func (n *notifier[T]) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.done)
}

// CallRepository is the in-memory signaling channel.
type CallRepository struct {
	mu           sync.RWMutex
	calls        map[domain.CallID]*domain.Call
	candidates   map[domain.CallID][]*domain.Candidate
	callWatchers map[domain.CallID]map[int]*notifier[*domain.Call]
	candWatchers map[domain.CallID]map[int]*notifier[*domain.Candidate]
	collWatchers map[int]*notifier[*domain.Call]
	nextWatchID  int
}

// NewCallRepository creates an empty in-memory call store.
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls:        make(map[domain.CallID]*domain.Call),
		candidates:   make(map[domain.CallID][]*domain.Candidate),
		callWatchers: make(map[domain.CallID]map[int]*notifier[*domain.Call]),
		candWatchers: make(map[domain.CallID]map[int]*notifier[*domain.Candidate]),
		collWatchers: make(map[int]*notifier[*domain.Call]),
	}
}

func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call) (domain.CallID, error) {
	stored := call.Clone()
	if stored.ID == "" {
		stored.ID = domain.CallID(utils.NewDocumentID())
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	r.mu.Lock()
	r.calls[stored.ID] = stored
	watchers := r.snapshotCallWatchers(stored.ID)
	collWatchers := make([]*notifier[*domain.Call], 0, len(r.collWatchers))
	for _, w := range r.collWatchers {
		collWatchers = append(collWatchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		w.push(stored.Clone())
	}
	for _, w := range collWatchers {
		w.push(stored.Clone())
	}
	return stored.ID, nil
}

func (r *CallRepository) GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	return call.Clone(), nil
}

func (r *CallRepository) UpdateCall(ctx context.Context, id domain.CallID, patch domain.CallPatch) error {
	r.mu.Lock()
	call, exists := r.calls[id]
	if !exists {
		r.mu.Unlock()
		return domain.ErrCallNotFound
	}

	updated := call.Clone()
	patch.Apply(updated)
	r.calls[id] = updated
	watchers := r.snapshotCallWatchers(id)
	r.mu.Unlock()

	for _, w := range watchers {
		w.push(updated.Clone())
	}
	return nil
}

func (r *CallRepository) DeleteCall(ctx context.Context, id domain.CallID) error {
	r.mu.Lock()
	_, exists := r.calls[id]
	if !exists {
		r.mu.Unlock()
		return nil
	}
	delete(r.calls, id)
	delete(r.candidates, id)
	watchers := r.snapshotCallWatchers(id)
	r.mu.Unlock()

	for _, w := range watchers {
		w.push(nil)
	}
	return nil
}

func (r *CallRepository) AddCandidate(ctx context.Context, callID domain.CallID, cand *domain.Candidate) error {
	stored := *cand
	if stored.ID == "" {
		stored.ID = domain.CandidateID(utils.NewCandidateID())
	}
	stored.CallID = callID

	r.mu.Lock()
	if _, exists := r.calls[callID]; !exists {
		r.mu.Unlock()
		return domain.ErrCallNotFound
	}
	r.candidates[callID] = append(r.candidates[callID], &stored)

	watchers := make([]*notifier[*domain.Candidate], 0)
	for _, w := range r.candWatchers[callID] {
		watchers = append(watchers, w)
	}
	r.mu.Unlock()

	for _, w := range watchers {
		record := stored
		w.push(&record)
	}
	return nil
}

func (r *CallRepository) WatchCall(ctx context.Context, id domain.CallID, onChange func(*domain.Call)) (ports.CancelFunc, error) {
	n := newNotifier(ctx, onChange)

	r.mu.Lock()
	watchID := r.nextWatchID
	r.nextWatchID++
	if r.callWatchers[id] == nil {
		r.callWatchers[id] = make(map[int]*notifier[*domain.Call])
	}
	r.callWatchers[id][watchID] = n

	// Initial state, if the document exists at subscription time.
	if call, exists := r.calls[id]; exists {
		n.push(call.Clone())
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.callWatchers[id], watchID)
		r.mu.Unlock()
		n.close()
	}
	return cancel, nil
}

func (r *CallRepository) WatchCandidates(ctx context.Context, callID domain.CallID, onAdded func(*domain.Candidate)) (ports.CancelFunc, error) {
	n := newNotifier(ctx, onAdded)

	r.mu.Lock()
	watchID := r.nextWatchID
	r.nextWatchID++
	if r.candWatchers[callID] == nil {
		r.candWatchers[callID] = make(map[int]*notifier[*domain.Candidate])
	}
	r.candWatchers[callID][watchID] = n

	// Replay records already present, in arrival order.
	for _, cand := range r.candidates[callID] {
		record := *cand
		n.push(&record)
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.candWatchers[callID], watchID)
		r.mu.Unlock()
		n.close()
	}
	return cancel, nil
}

func (r *CallRepository) WatchCalls(ctx context.Context, onAdded func(*domain.Call)) (ports.CancelFunc, error) {
	n := newNotifier(ctx, onAdded)

	r.mu.Lock()
	watchID := r.nextWatchID
	r.nextWatchID++
	r.collWatchers[watchID] = n

	for _, call := range r.calls {
		n.push(call.Clone())
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		delete(r.collWatchers, watchID)
		r.mu.Unlock()
		n.close()
	}
	return cancel, nil
}

func (r *CallRepository) snapshotCallWatchers(id domain.CallID) []*notifier[*domain.Call] {
	watchers := make([]*notifier[*domain.Call], 0, len(r.callWatchers[id]))
	for _, w := range r.callWatchers[id] {
		watchers = append(watchers, w)
	}
	return watchers
}
