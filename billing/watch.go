package billing

import (
	"context"
	"sync"
	"sync/atomic"
)

// =============================================================================
// SUBSCRIPTIONS - Live query results pushed after every commit
// =============================================================================

// Subscription is a live query. Once Unsubscribe returns no new delivery
// begins; a delivery already running on another goroutine may still
// finish. It may be called from inside the callback.
type Subscription interface {
	Unsubscribe()
}

// Hub fans committed changes out to live subscriptions. Stores embed one and
// call Notify after every successful commit.
//
// Deliveries are serialized across the hub, and each delivery re-reads the
// query, so a subscriber observes snapshots in commit order and always ends
// on the latest committed state. Callbacks must not commit synchronously.
type Hub struct {
	mu    sync.Mutex
	next  uint64
	subs  map[uint64]*watch
	order sync.Mutex
}

type watch struct {
	id      uint64
	group   GroupID
	ctx     context.Context
	closed  atomic.Bool
	hub     *Hub
	refresh func()
}

func (w *watch) Unsubscribe() {
	if w.closed.Swap(true) {
		return
	}
	w.hub.mu.Lock()
	delete(w.hub.subs, w.id)
	w.hub.mu.Unlock()
}

// Watch registers a live query on the hub and delivers its first snapshot
// before returning. The subscription ends on Unsubscribe or when ctx is done.
func Watch[T any](ctx context.Context, h *Hub, groupID GroupID, load func(context.Context) ([]T, error), fn func([]T, error)) Subscription {
	w := &watch{group: groupID, ctx: ctx, hub: h}
	w.refresh = func() {
		if w.closed.Load() {
			return
		}
		if w.ctx.Err() != nil {
			w.Unsubscribe()
			return
		}
		items, err := load(w.ctx)
		if w.closed.Load() {
			return
		}
		fn(items, err)
	}

	h.order.Lock()
	defer h.order.Unlock()

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[uint64]*watch)
	}
	h.next++
	w.id = h.next
	h.subs[w.id] = w
	h.mu.Unlock()

	w.refresh()
	return w
}

// Notify re-runs every subscription on the given groups.
func (h *Hub) Notify(groups ...GroupID) {
	if len(groups) == 0 {
		return
	}
	h.order.Lock()
	defer h.order.Unlock()

	for _, w := range h.watching(groups) {
		w.refresh()
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) watching(groups []GroupID) []*watch {
	h.mu.Lock()
	defer h.mu.Unlock()

	want := make(map[GroupID]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	var out []*watch
	for _, w := range h.subs {
		if want[w.group] {
			out = append(out, w)
		}
	}
	return out
}

// =============================================================================
// COMBINED SUBSCRIPTIONS
// =============================================================================

// Subscriptions ends several subscriptions together.
type Subscriptions []Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
