// Package transport implements the broker's acceptor and runtime: binds
// the listener, accepts connections, constructs a Session per accepted
// socket, and schedules the periodic index cleanup sweep.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adred-codev/pubsub-broker/internal/config"
	"github.com/adred-codev/pubsub-broker/internal/metrics"
	"github.com/adred-codev/pubsub-broker/internal/session"
)

// Server owns the listener, the shared subscription Index, and the worker
// goroutines that drive accept, cleanup, and resource-monitoring loops.
//
// Rather than a fixed-size worker pool, each accepted connection gets its
// own read and write goroutines, scheduled across GOMAXPROCS OS threads by
// the Go runtime itself — see DESIGN.md "Open Questions resolved" #2.
type Server struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Registry

	index    *session.Index
	listener net.Listener

	sessions sync.Map // map[uint64]*session.Session
	nextID   uint64

	rateLimiter     *connRateLimiter
	resourceMonitor *resourceMonitor

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewServer constructs a Server. The index is created here and exposed via
// Index() so cmd/broker can share it with the metrics/health HTTP handlers.
func NewServer(cfg config.Config, logger *zap.Logger, reg *metrics.Registry) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		index:   session.NewIndex(logger, reg),
		rateLimiter: newConnRateLimiter(
			cfg.Limits.ConnRateLimitBurst, cfg.Limits.ConnRateLimitPerSec,
			cfg.Limits.ConnRateLimitBurst, cfg.Limits.ConnRateLimitPerSec,
		),
		resourceMonitor: newResourceMonitor(logger, reg, cfg.Metrics.SampleInterval),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Index returns the shared subscription index.
func (s *Server) Index() *session.Index { return s.index }

// SessionCount returns the number of currently tracked Sessions.
func (s *Server) SessionCount() int {
	count := 0
	s.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Start binds the listener and launches the accept, cleanup, and
// resource-monitor loops. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr(), err)
	}
	s.listener = ln
	s.logger.Info("broker listening", zap.String("addr", s.cfg.Server.Addr()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cleanupLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resourceMonitor.run(s.ctx)
	}()

	return nil
}

// acceptLoop accepts connections until the listener is closed. Accept
// errors are logged and accept is re-armed; a listener close during
// Shutdown is the expected exit path, not an error to retry.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return
			}
			s.logger.Error("accept error", zap.Error(err))
			if s.metrics != nil {
				s.metrics.AcceptErrors.Inc()
			}
			continue
		}

		remoteIP := hostOf(conn.RemoteAddr())
		if !s.rateLimiter.Allow(remoteIP) {
			s.logger.Warn("connection rejected by rate limiter", zap.String("remote_ip", remoteIP))
			if s.metrics != nil {
				s.metrics.AcceptErrors.Inc()
			}
			_ = conn.Close()
			continue
		}

		if s.cfg.Limits.MaxConnections > 0 && s.SessionCount() >= s.cfg.Limits.MaxConnections {
			s.logger.Warn("connection rejected, at capacity", zap.Int("max_connections", s.cfg.Limits.MaxConnections))
			if s.metrics != nil {
				s.metrics.AcceptErrors.Inc()
			}
			_ = conn.Close()
			continue
		}

		s.logger.Info("accepted connection", zap.String("remote_addr", conn.RemoteAddr().String()))
		s.register(conn)
	}
}

func (s *Server) register(conn net.Conn) {
	id := atomic.AddUint64(&s.nextID, 1)
	sess := session.New(id, conn, s.index, s.logger, s.metrics, s.cfg.Session.SendQueueSize)
	s.sessions.Store(id, sess)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.SessionCount()))
	}

	sess.Start()

	// Deregister once both the read and write loops exit, so a closed
	// Session does not linger in s.sessions indefinitely (eager removal;
	// the index itself is cleaned up by Session.handleErrorAndClose).
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Wait()
		s.sessions.Delete(id)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(s.SessionCount()))
		}
	}()
}

// cleanupLoop fires CleanupDead every Index.CleanupInterval. Rearmed after
// every fire; CleanupDead itself has no error path to recover from.
func (s *Server) cleanupLoop() {
	interval := s.cfg.Index.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.index.CleanupDead()
			s.rateLimiter.EvictStale()
		}
	}
}

// Shutdown stops accepting new connections, cancels the cleanup and
// resource-monitor loops, closes every tracked Session, and waits for all
// goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutdown requested")
	s.shuttingDown.Store(true)

	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.cancel()

	s.sessions.Range(func(_, value any) bool {
		value.(*session.Session).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown grace period expired with goroutines still running")
		return ctx.Err()
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
