package grpccomm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/log_service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName  = "sandsampler.Worker"
	exchangeName = "Exchange"
	exchangePath = "/" + serviceName + "/" + exchangeName
)

// Frames are JSON envelopes wrapped in a BytesValue so the default proto
// codec carries them without generated stubs.
type exchangeServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(exchangeServer).Exchange(stream)
}

var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    exchangeName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "sandsampler/worker",
}

type GRPCCommunicator struct {
	listenAddress string
	handler       communication.SessionHandler
	grpcServer    *grpc.Server
	ls            log_service.LogService
	lis           net.Listener

	stopped   bool
	stopMutex sync.Mutex
}

func NewGRPCCommunicator(addr string, ls log_service.LogService) *GRPCCommunicator {
	return &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
	}
}

func (c *GRPCCommunicator) Address() string {
	if c.lis != nil {
		return c.lis.Addr().String()
	}
	return c.listenAddress
}

func (c *GRPCCommunicator) Start(handler communication.SessionHandler) error {
	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", communication.ErrGRPCListenFailed, err)
	}
	return c.Serve(lis, handler)
}

// Serve runs the worker service on an existing listener.
func (c *GRPCCommunicator) Serve(lis net.Listener, handler communication.SessionHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil session handler", communication.ErrServerStartFailed)
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	c.handler = handler
	c.lis = lis
	c.grpcServer = grpc.NewServer()
	c.grpcServer.RegisterService(&workerServiceDesc, &grpcServer{comm: c})

	go func() {
		if err := c.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": lis.Addr().String(), "error": err.Error()},
			})
		}
	}()

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})
	return nil
}

func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	if c.stopped {
		c.ls.Debug(log_service.LogEvent{
			Message:  "GRPC communicator already stopped, skipping",
			Metadata: map[string]any{"address": c.Address()},
		})
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping GRPC communicator",
		Metadata: map[string]any{"address": c.Address()},
	})

	// Open session streams would block GracefulStop indefinitely.
	if c.grpcServer != nil {
		c.grpcServer.Stop()
	}

	c.stopped = true
	return nil
}

type grpcServer struct {
	comm *GRPCCommunicator
}

func (s *grpcServer) Exchange(stream grpc.ServerStream) error {
	s.comm.ls.Info(log_service.LogEvent{Message: "Controller stream opened"})

	conn := &serverConn{stream: stream}
	err := s.comm.handler(stream.Context(), conn)

	s.comm.ls.Info(log_service.LogEvent{
		Message:  "Controller stream closed",
		Metadata: map[string]any{"error": fmt.Sprint(err)},
	})
	return err
}

// serverConn is the worker end of one Exchange stream.
type serverConn struct {
	stream grpc.ServerStream
	sendMu sync.Mutex
}

func (c *serverConn) ReceiveRequest(ctx context.Context) (communication.Request, error) {
	var frame wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&frame); err != nil {
		return communication.Request{}, transportErr(err)
	}
	return communication.UnmarshalRequest(frame.GetValue())
}

func (c *serverConn) SendReply(ctx context.Context, reply communication.Reply) error {
	b, err := communication.MarshalReply(reply)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
		return transportErr(err)
	}
	return nil
}

func (c *serverConn) Close() error {
	return nil
}

// GRPCControllerConn is the controller end of an Exchange stream.
type GRPCControllerConn struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	ls     log_service.LogService

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// Dial opens one Exchange stream to a worker. The stream outlives ctx.
func Dial(ctx context.Context, addr string, ls log_service.LogService, opts ...grpc.DialOption) (*GRPCControllerConn, error) {
	ls.Debug(log_service.LogEvent{
		Message:  "Creating new GRPC client",
		Metadata: map[string]any{"to": addr},
	})

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": addr, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrConnectionFailed, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := conn.NewStream(streamCtx, &workerServiceDesc.Streams[0], exchangePath)
	if err != nil {
		cancel()
		conn.Close()
		ls.Error(log_service.LogEvent{
			Message:  "Failed to open exchange stream",
			Metadata: map[string]any{"to": addr, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrConnectionFailed, err)
	}

	return &GRPCControllerConn{conn: conn, stream: stream, cancel: cancel, ls: ls}, nil
}

func (c *GRPCControllerConn) SendRequest(ctx context.Context, req communication.Request) error {
	b, err := communication.MarshalRequest(req)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send GRPC message",
			Metadata: map[string]any{"id": req.ID, "action": req.Action, "error": err.Error()},
		})
		return transportErr(err)
	}
	return nil
}

func (c *GRPCControllerConn) ReceiveReply(ctx context.Context) (communication.Reply, error) {
	var frame wrapperspb.BytesValue
	if err := c.stream.RecvMsg(&frame); err != nil {
		return communication.Reply{}, transportErr(err)
	}
	return communication.UnmarshalReply(frame.GetValue())
}

func (c *GRPCControllerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		_ = c.stream.CloseSend()
		c.sendMu.Unlock()
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

func transportErr(err error) error {
	if errors.Is(err, communication.ErrTransportClosed) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return communication.ErrTransportClosed
	}
	return fmt.Errorf("%w: %v", communication.ErrTransportClosed, err)
}

var (
	_ communication.ControllerConn = (*GRPCControllerConn)(nil)
	_ communication.WorkerConn     = (*serverConn)(nil)
)
