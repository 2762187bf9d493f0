//go:build tinygo

package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"openenterprise/fwupdater/config"
	"openenterprise/fwupdater/engine"
	"openenterprise/fwupdater/frame"

	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

// busServer bridges the firmware-update engine onto a TCP listener,
// standing in for the physical bus this protocol was designed to ride
// (spec §1, §6): every connection is a bus session, every message an
// inbound frame dispatched straight to the engine.
type busServer struct {
	port   uint16
	engine *engine.Engine
	logger *slog.Logger

	mu    sync.Mutex
	stack *xnet.StackAsync
}

// Pre-allocated connection buffers, sized for the fixed small frames
// this protocol exchanges (spec §4.2, §4.6) rather than bulk transfer.
var (
	busRxBuf [256]byte
	busTxBuf [256]byte
)

func newBusServer(port uint16, eng *engine.Engine, logger *slog.Logger) *busServer {
	return &busServer{port: port, engine: eng, logger: logger}
}

// Start launches the accept loop in the background. stack must already
// be attached to a configured network interface.
func (s *busServer) Start(stack *xnet.StackAsync) {
	s.mu.Lock()
	s.stack = stack
	s.mu.Unlock()
	go s.acceptLoop()
}

func (s *busServer) acceptLoop() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("busserver:panic-recovered")
		}
	}()

	var conn tcp.Conn
	err := conn.Configure(tcp.ConnConfig{
		RxBuf:             busRxBuf[:],
		TxBuf:             busTxBuf[:],
		TxPacketQueueSize: 2,
	})
	if err != nil {
		s.logger.Error("busserver:configure-failed", slog.String("err", err.Error()))
		return
	}

	s.logger.Info("busserver:ready", slog.Int("port", int(s.port)))

	for {
		conn.Abort()
		time.Sleep(100 * time.Millisecond)

		if err := s.stack.ListenTCP(&conn, s.port); err != nil {
			s.logger.Error("busserver:listen-failed", slog.String("err", err.Error()))
			time.Sleep(3 * time.Second)
			continue
		}

		waitCount := 0
		for conn.State().IsPreestablished() && waitCount < 6000 {
			time.Sleep(10 * time.Millisecond)
			waitCount++
		}
		if !conn.State().IsSynchronized() {
			conn.Abort()
			continue
		}

		s.logger.Info("busserver:connected")
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("busserver:session-panic")
				}
			}()
			s.handleSession(&conn)
		}()

		conn.Close()
		for i := 0; i < 30 && !conn.State().IsClosed(); i++ {
			time.Sleep(100 * time.Millisecond)
		}
		conn.Abort()
		s.logger.Info("busserver:disconnected")
	}
}

// handleSession dispatches one frame per read, for as long as the bus
// peer keeps the connection open. Each frame produces an ack/nack byte
// and, for the three reply-producing commands, a reply frame.
func (s *busServer) handleSession(conn *tcp.Conn) {
	var raw [frame.InboundFrameSize]byte
	for {
		if err := readExactlyBus(conn, raw[:], config.BusSessionIdleTimeout()); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("busserver:read-ended", slog.String("err", err.Error()))
			}
			return
		}

		ack, reply := s.engine.Dispatch(raw[:])

		status := byte(frame.NackByte)
		if ack {
			status = frame.AckByte
		}
		conn.Write([]byte{status})
		if reply != nil {
			conn.Write(reply)
		}
		conn.Flush()
	}
}

func readExactlyBus(conn *tcp.Conn, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	total := 0
	for total < len(buf) && time.Now().Before(deadline) {
		if conn.State().IsClosed() || conn.State().IsClosing() {
			return io.EOF
		}
		n, err := conn.Read(buf[total:])
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return err
		}
		if n > 0 {
			total += n
		} else {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if total < len(buf) {
		return errors.New("busserver: read timeout")
	}
	return nil
}
