// Package session implements one Session per accepted TCP connection and
// the process-wide subscription Index shared across all Sessions.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/adred-codev/pubsub-broker/internal/codec"
	"github.com/adred-codev/pubsub-broker/internal/metrics"
)

// Session represents one connected peer. Its lifetime begins at accept and
// ends at the first I/O error, peer close, or protocol error;
// termination is idempotent.
type Session struct {
	id      uint64
	conn    net.Conn
	index   *Index
	logger  *zap.Logger
	metrics *metrics.Registry

	send *sendQueue

	closed    atomic.Bool
	closeOnce sync.Once

	wg sync.WaitGroup
}

// New constructs a Session for an accepted connection. Callers must call
// Start to begin driving it.
func New(id uint64, conn net.Conn, index *Index, logger *zap.Logger, reg *metrics.Registry, sendQueueSize int) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		index:   index,
		logger:  logger.With(zap.Uint64("session_id", id), zap.String("remote_addr", conn.RemoteAddr().String())),
		metrics: reg,
		send:    newSendQueue(sendQueueSize),
	}
}

// ID returns the Session's opaque identity, useful for diagnostics.
func (s *Session) ID() uint64 { return s.id }

// Closed reports whether the Session has terminated.
func (s *Session) Closed() bool { return s.closed.Load() }

// Start begins reading from and writing to the socket. Non-blocking: it
// launches the receive and write-drain goroutines and returns immediately;
// subsequent work is driven by those goroutines.
func (s *Session) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()
}

// Wait blocks until both the read and write loops have exited. Used by the
// acceptor during graceful shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
}

// DeliverRaw enqueues a fully-framed outbound byte buffer for this Session.
// Thread-safe: may be called from any goroutine (the routing path calls it
// once per subscriber while iterating a snapshot taken outside the index's
// lock). Guarantees FIFO with respect to the calling goroutine; does not
// guarantee global FIFO across callers.
func (s *Session) DeliverRaw(frame []byte) {
	if s.closed.Load() {
		return
	}
	ok, dropped := s.send.push(frame)
	if !ok {
		return
	}
	if dropped {
		s.logger.Warn("send queue full, dropped oldest frame")
	}
}

// writeLoop drains the send queue and writes frames to the socket one at a
// time, so at most one write is ever outstanding for this Session.
func (s *Session) writeLoop() {
	for {
		frame, ok := s.send.pop()
		if !ok {
			return
		}
		if _, err := s.conn.Write(frame); err != nil {
			s.handleErrorAndClose("write error", err)
			return
		}
	}
}

// readLoop drives the receive state machine: AwaitHeader -> (AwaitSubscribeTopic
// | AwaitDataPayload) -> AwaitHeader.
func (s *Session) readLoop() {
	header := make([]byte, 1)
	subscribeBody := make([]byte, codec.SubscribeFrameLen-1)
	dataBody := make([]byte, codec.DataFrameLen-1)

	for {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.handleErrorAndClose("read header", err)
			return
		}

		switch codec.ReadUint8(header) {
		case codec.TypeSubscribe:
			if _, err := io.ReadFull(s.conn, subscribeBody); err != nil {
				s.handleErrorAndClose("read subscribe topic", err)
				return
			}
			topic := codec.ReadInt32(subscribeBody)
			s.index.Subscribe(topic, s)

		case codec.TypeData:
			if _, err := io.ReadFull(s.conn, dataBody); err != nil {
				s.handleErrorAndClose("read data payload", err)
				return
			}
			s.routeData(dataBody)

		default:
			s.handleProtocolError(header[0])
			return
		}
	}
}

// routeData decodes the topic id, snapshots the current subscriber set,
// builds the outbound frame once, and fans it out. The snapshot is taken
// (and the index's lock released) before any DeliverRaw call.
func (s *Session) routeData(payload []byte) {
	topic := codec.DecodeTopicID(payload)
	subscribers := s.index.Subscribers(topic)

	if len(subscribers) == 0 {
		if s.metrics != nil {
			s.metrics.DataFramesDropped.Inc()
		}
		s.logger.Info("no subscribers for topic, frame dropped", zap.Int32("topic_id", topic))
		return
	}

	// The frame is built once and its bytes are immutable from here on;
	// sharing it across N deliveries avoids N re-encodes.
	frame := codec.EncodeDataFrame(payload)

	for _, sub := range subscribers {
		sub.DeliverRaw(frame)
	}

	if s.metrics != nil {
		s.metrics.DataFramesRouted.Inc()
	}
	s.logger.Debug("routed data frame",
		zap.Int32("topic_id", topic),
		zap.Int("subscriber_count", len(subscribers)),
	)
}

func (s *Session) handleProtocolError(leadByte byte) {
	err := codec.ErrUnknownFrameType{Type: leadByte}
	if s.metrics != nil {
		s.metrics.ProtocolErrors.Inc()
	}
	s.handleErrorAndClose("protocol error", err)
}

// handleErrorAndClose terminates the Session: marks it closed, drops it
// from every topic in the index, stops issuing new reads/writes, and logs
// the cause. Idempotent.
func (s *Session) handleErrorAndClose(context string, err error) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.send.close()
		_ = s.conn.Close()
		s.index.UnsubscribeAll(s)

		if errors.Is(err, io.EOF) {
			s.logger.Debug("session closed", zap.String("reason", context))
			return
		}
		var protoErr codec.ErrUnknownFrameType
		if errors.As(err, &protoErr) {
			s.logger.Warn("session closed on protocol error", zap.Error(err))
			return
		}
		s.logger.Debug("session closed", zap.String("reason", context), zap.Error(err))
	})
}

// Close terminates the Session from the outside (e.g. server shutdown).
// Idempotent, same path as an internally-detected error.
func (s *Session) Close() {
	s.handleErrorAndClose("closed by server", io.EOF)
}
