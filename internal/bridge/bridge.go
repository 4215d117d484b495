// Package bridge is the controller side of the worker protocol. It tags each
// call with a correlation id and settles the matching Future when the reply
// arrives, so any number of calls can be outstanding at once.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/metrics"
)

type Bridge struct {
	conn    communication.ControllerConn
	ls      log_service.LogService
	metrics *metrics.Metrics

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*Future
	started  bool
	closed   bool
	closeErr error

	done chan struct{}
}

func New(conn communication.ControllerConn, ls log_service.LogService, m *metrics.Metrics) *Bridge {
	return &Bridge{
		conn:    conn,
		ls:      ls,
		metrics: m,
		pending: make(map[uint64]*Future),
		done:    make(chan struct{}),
	}
}

// Start launches the reply loop. It returns immediately.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.receiveLoop()
}

// Stop closes the transport and rejects every pending call.
func (b *Bridge) Stop() error {
	err := b.conn.Close()
	b.fail(ErrBridgeStopped)
	return err
}

// Done is closed once the bridge can no longer settle calls.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err is the reason the bridge shut down, or nil while it runs.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Call sends one request and returns its Future without waiting.
func (b *Bridge) Call(ctx context.Context, action communication.Action, config any) (*Future, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, ErrNotStarted
	}
	if b.closed {
		err := b.closeErr
		b.mu.Unlock()
		return nil, err
	}
	id := b.nextID
	b.nextID++

	req, err := communication.NewRequest(id, action, config)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	f := newFuture(id, action)
	b.pending[id] = f
	b.metrics.SetPendingCalls(len(b.pending))
	b.mu.Unlock()

	b.ls.Debug(log_service.LogEvent{
		Message:  "Sending request",
		Metadata: map[string]any{"id": id, "action": action},
	})

	if err := b.conn.SendRequest(ctx, req); err != nil {
		b.remove(id)
		b.ls.Error(log_service.LogEvent{
			Message:  "Failed to send request",
			Metadata: map[string]any{"id": id, "action": action, "error": err.Error()},
		})
		if errors.Is(err, communication.ErrTransportClosed) {
			b.fail(err)
		}
		return nil, fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, err)
	}
	return f, nil
}

func (b *Bridge) remove(id uint64) (*Future, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		b.metrics.SetPendingCalls(len(b.pending))
	}
	return f, ok
}

func (b *Bridge) receiveLoop() {
	for {
		reply, err := b.conn.ReceiveReply(context.Background())
		if err != nil {
			if errors.Is(err, communication.ErrInvalidJSON) {
				b.ls.Warn(log_service.LogEvent{
					Message:  "Dropping malformed reply frame",
					Metadata: map[string]any{"error": err.Error()},
				})
				continue
			}
			b.ls.Warn(log_service.LogEvent{
				Message:  "Reply stream ended",
				Metadata: map[string]any{"error": err.Error()},
			})
			if !errors.Is(err, communication.ErrTransportClosed) {
				err = fmt.Errorf("%w: %v", communication.ErrTransportClosed, err)
			}
			b.fail(err)
			return
		}
		b.settle(reply)
	}
}

func (b *Bridge) settle(reply communication.Reply) {
	f, ok := b.remove(reply.ID)
	if !ok {
		b.ls.Debug(log_service.LogEvent{
			Message:  "Reply for unknown or settled call",
			Metadata: map[string]any{"id": reply.ID, "action": reply.Action},
		})
		return
	}

	switch reply.Action {
	case communication.ReplyCallback:
		f.resolve(reply.Message)
	case communication.ReplyError:
		em := communication.DecodeErrorMessage(reply.Message)
		f.reject(&RemoteError{ID: f.ID, Action: f.Action, Code: em.Code, Message: em.Message})
	default:
		f.reject(fmt.Errorf("%w: action <%s>", communication.ErrInvalidReply, reply.Action))
	}
}

// fail rejects every pending call with err and refuses new ones.
func (b *Bridge) fail(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	pending := b.pending
	b.pending = make(map[uint64]*Future)
	b.metrics.SetPendingCalls(0)
	b.mu.Unlock()

	for _, f := range pending {
		f.reject(err)
	}
	close(b.done)
}

// Future is a call awaiting its reply.
type Future struct {
	ID     uint64
	Action communication.Action

	done    chan struct{}
	once    sync.Once
	message json.RawMessage
	err     error
}

func newFuture(id uint64, action communication.Action) *Future {
	return &Future{ID: id, Action: action, done: make(chan struct{})}
}

func (f *Future) resolve(message json.RawMessage) {
	f.once.Do(func() {
		f.message = message
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call settles or ctx ends. Giving up on ctx does not
// cancel the call on the worker.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.message, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits and unmarshals the reply into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	msg, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(msg) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("%w: %v", communication.ErrPayloadUnmarshalFailed, err)
	}
	return nil
}
