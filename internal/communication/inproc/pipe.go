package inproc

import (
	"context"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/communication"
)

// pipe moves serialized frames between the two ends. Nothing but bytes
// crosses it, so neither side can observe the other's memory.
type pipe struct {
	requests chan []byte
	replies  chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

func send(ctx context.Context, p *pipe, ch chan<- []byte, frame []byte) error {
	select {
	case <-p.closed:
		return communication.ErrTransportClosed
	default:
	}
	select {
	case ch <- frame:
		return nil
	case <-p.closed:
		return communication.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive hands out frames queued before a close ahead of the close itself.
func receive(ctx context.Context, p *pipe, ch <-chan []byte) ([]byte, error) {
	select {
	case frame := <-ch:
		return frame, nil
	case <-p.closed:
		select {
		case frame := <-ch:
			return frame, nil
		default:
			return nil, communication.ErrTransportClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type ControllerEnd struct {
	p *pipe
}

type WorkerEnd struct {
	p *pipe
}

// NewPipe returns both ends of an in-process transport. buffer bounds the
// number of frames queued in each direction.
func NewPipe(buffer int) (*ControllerEnd, *WorkerEnd) {
	p := &pipe{
		requests: make(chan []byte, buffer),
		replies:  make(chan []byte, buffer),
		closed:   make(chan struct{}),
	}
	return &ControllerEnd{p: p}, &WorkerEnd{p: p}
}

func (c *ControllerEnd) SendRequest(ctx context.Context, req communication.Request) error {
	frame, err := communication.MarshalRequest(req)
	if err != nil {
		return err
	}
	return send(ctx, c.p, c.p.requests, frame)
}

func (c *ControllerEnd) ReceiveReply(ctx context.Context) (communication.Reply, error) {
	frame, err := receive(ctx, c.p, c.p.replies)
	if err != nil {
		return communication.Reply{}, err
	}
	return communication.UnmarshalReply(frame)
}

func (c *ControllerEnd) Close() error {
	c.p.close()
	return nil
}

func (w *WorkerEnd) ReceiveRequest(ctx context.Context) (communication.Request, error) {
	frame, err := receive(ctx, w.p, w.p.requests)
	if err != nil {
		return communication.Request{}, err
	}
	return communication.UnmarshalRequest(frame)
}

func (w *WorkerEnd) SendReply(ctx context.Context, reply communication.Reply) error {
	frame, err := communication.MarshalReply(reply)
	if err != nil {
		return err
	}
	return send(ctx, w.p, w.p.replies, frame)
}

func (w *WorkerEnd) Close() error {
	w.p.close()
	return nil
}

// SendRaw pushes an arbitrary frame towards the worker.
func (c *ControllerEnd) SendRaw(ctx context.Context, frame []byte) error {
	return send(ctx, c.p, c.p.requests, frame)
}

var (
	_ communication.ControllerConn = (*ControllerEnd)(nil)
	_ communication.WorkerConn     = (*WorkerEnd)(nil)
)
