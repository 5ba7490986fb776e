// Package fake is an in-memory Messenger double for router tests: it
// records every Send and lets a test push synthetic Callback values
// through Deliver instead of waiting on a real bot.
package fake

import (
	"context"
	"sync"

	"github.com/forwardfactor/scanner/internal/messenger"
)

// Sent is one recorded Send call.
type Sent struct {
	ChatID  int64
	Payload messenger.Payload
	Actions []messenger.Action
}

// Messenger records Send calls and replays test-driven callbacks.
type Messenger struct {
	mu       sync.Mutex
	sent     []Sent
	nextID   int
	sendErr  error
	callback chan messenger.Callback
}

// New builds an empty Messenger. Send always succeeds unless FailAllSends
// is used; failed attempts are recorded too.
func New() *Messenger {
	return &Messenger{callback: make(chan messenger.Callback, 16)}
}

// FailAllSends makes every subsequent Send return err.
func (m *Messenger) FailAllSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns every recorded Send call, in order.
func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// Deliver pushes a synthetic callback to whatever is reading from Callbacks.
func (m *Messenger) Deliver(cb messenger.Callback) {
	m.callback <- cb
}

func (m *Messenger) Send(ctx context.Context, chatID int64, payload messenger.Payload, actions []messenger.Action) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{ChatID: chatID, Payload: payload, Actions: actions})
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.nextID++
	return string(rune('a' + m.nextID)), nil
}

func (m *Messenger) Callbacks(ctx context.Context) (<-chan messenger.Callback, error) {
	out := make(chan messenger.Callback)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case cb := <-m.callback:
				select {
				case out <- cb:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
