package gate

import (
    "context"
    "sync"
)

// Subscribe returns a channel of status transitions. The returned channel is
// buffered and closed automatically when ctx is done. Transitions may be
// dropped if the consumer is too slow; publishing never blocks the evaluator.
func (g *Gate) Subscribe(ctx context.Context) <-chan Transition {
    ch := make(chan Transition, 64)
    g.eb.add(ch)
    go func() {
        <-ctx.Done()
        g.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Transition]struct{}
}

func (e *eventBus) add(ch chan Transition) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Transition]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Transition) {
    e.mu.Lock()
    if e.subs != nil { delete(e.subs, ch) }
    e.mu.Unlock()
}

func (e *eventBus) publish(tr Transition) {
    e.mu.Lock()
    for ch := range e.subs {
        select {
        case ch <- tr:
        default:
            // drop if receiver is slow
        }
    }
    e.mu.Unlock()
}
