// Package sessions tracks live relays by invite token so graceful shutdown
// can warn and then cancel them.
package sessions

import (
	"context"
	"sync"
)

// Handle exposes the two operations the tracker fans out to a live relay.
type Handle struct {
	Terminate func()
	Notify    func(reason string)
}

type Tracker struct {
	mu     sync.Mutex
	relays map[string]*trackedRelay
	wg     sync.WaitGroup
}

type trackedRelay struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{relays: make(map[string]*trackedRelay)}
}

// Register tracks one relay under its invite token. Registering the same
// token again unregisters the previous relay: one live connection per
// interview. The returned func must be called when the relay ends.
func (t *Tracker) Register(token string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedRelay{handle: h}

	t.mu.Lock()
	if t.relays == nil {
		t.relays = make(map[string]*trackedRelay)
	}
	old := t.relays[token]
	t.relays[token] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(token, old)
	}
	return func() { t.unregister(token, entry) }
}

func (t *Tracker) unregister(token string, entry *trackedRelay) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.relays != nil && t.relays[token] == entry {
			delete(t.relays, token)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.relays)
}

// NotifyAll tells every live relay the gateway is going away.
func (t *Tracker) NotifyAll(reason string) (sent int) {
	if t == nil {
		return 0
	}
	var notifies []func(string)
	t.mu.Lock()
	for _, entry := range t.relays {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		notify(reason)
		sent++
	}
	return sent
}

// TerminateAll force-cancels every live relay.
func (t *Tracker) TerminateAll() (terminated int) {
	if t == nil {
		return 0
	}
	var terminates []func()
	t.mu.Lock()
	for _, entry := range t.relays {
		if entry == nil || entry.handle.Terminate == nil {
			continue
		}
		terminates = append(terminates, entry.handle.Terminate)
	}
	t.mu.Unlock()

	for _, terminate := range terminates {
		terminate()
		terminated++
	}
	return terminated
}

// Wait blocks until every tracked relay has unregistered or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
