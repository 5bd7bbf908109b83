package lineproto

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sushant-115/blinkdb/config"
	"github.com/sushant-115/blinkdb/core/indexing/blink"
	internaltelemetry "github.com/sushant-115/blinkdb/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server serves one tree to many concurrent connections. There is no
// server-side lock around the tree; concurrency control is the tree's own
// node latching.
type Server struct {
	tree    *blink.Tree[string, string]
	cfg     config.ServerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *internaltelemetry.ServerMetrics

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *zap.Logger) Option { return func(s *Server) { s.logger = logger } }

func WithTracer(tracer trace.Tracer) Option { return func(s *Server) { s.tracer = tracer } }

// WithMeter registers the server instruments on meter.
func WithMeter(meter metric.Meter) Option {
	return func(s *Server) {
		m, err := internaltelemetry.NewServerMetrics(meter)
		if err != nil {
			s.logger.Warn("server metrics unavailable", zap.Error(err))
			return
		}
		s.metrics = m
	}
}

// NewServer creates a server for tree.
func NewServer(tree *blink.Tree[string, string], cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		tree:   tree,
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: nooptrace.NewTracerProvider().Tracer(""),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics, _ = internaltelemetry.NewServerMetrics(noop.NewMeterProvider().Meter(""))
	}
	if s.cfg.MaxScanResults < 1 {
		s.cfg.MaxScanResults = 1000
	}
	return s
}

// Serve accepts connections on ln until ctx is done or Close is called.
// It returns nil on a requested shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.logger.Info("line protocol server listening", zap.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			return errors.Wrap(err, "accepting connection")
		}
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.ServeConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	return nil
}

// ServeConn runs the request loop of one connection until the peer hangs up,
// the idle timeout expires, or ctx is done. It closes conn.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	log := s.logger.With(zap.String("conn_id", connID), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("client connected")
	s.metrics.ActiveConnectionsUpDownCounter.Add(ctx, 1)
	defer s.metrics.ActiveConnectionsUpDownCounter.Add(context.WithoutCancel(ctx), -1)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
	}

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		netData, err := reader.ReadString('\n')
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Debug("client disconnected")
			case errors.Is(err, os.ErrDeadlineExceeded):
				log.Debug("closing idle connection", zap.Duration("idle_timeout", s.cfg.IdleTimeout))
			default:
				log.Warn("error reading from client", zap.Error(err))
			}
			return
		}
		// Only the line ending is stripped; trailing blanks belong to a value.
		rawCommand := strings.TrimRight(netData, "\r\n")
		if strings.TrimSpace(rawCommand) == "" {
			continue
		}

		if !limiter.Allow() {
			s.metrics.RateLimitedCounter.Add(ctx, 1)
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		var resp Response
		req, err := ParseRequest(rawCommand)
		if err != nil {
			resp = Response{Status: StatusError, Message: fmt.Sprintf("invalid request: %v", err)}
		} else {
			resp = s.serveRequest(ctx, connID, req)
		}
		if err := resp.Encode(writer); err != nil {
			log.Warn("error writing response to client", zap.Error(err))
			return
		}
	}
}

// serveRequest wraps Handle with tracing, metrics and the request timeout.
func (s *Server) serveRequest(ctx context.Context, connID string, req Request) Response {
	start := time.Now()
	cmdAttr := attribute.String("command", req.Command)
	s.metrics.RequestsStartedCounter.Add(ctx, 1, metric.WithAttributes(cmdAttr))

	ctx, span := s.tracer.Start(ctx, "blinkdb."+strings.ToLower(req.Command),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(cmdAttr, attribute.String("conn_id", connID)))
	defer span.End()

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	resp := s.Handle(ctx, req)

	if resp.Status == StatusError || resp.Status == StatusBusy {
		span.SetStatus(codes.Error, resp.Message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	statusAttr := attribute.String("status", resp.Status)
	s.metrics.RequestsHandledCounter.Add(ctx, 1, metric.WithAttributes(cmdAttr, statusAttr))
	s.metrics.RequestLatencyHistogram.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(cmdAttr))
	return resp
}

// Handle executes one parsed request against the tree.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Command {
	case "PUT":
		replaced, err := s.tree.Put(ctx, req.Key, req.Value)
		if err != nil {
			return s.failure(ctx, "PUT", err)
		}
		if replaced {
			return Response{Status: StatusOK, Message: "replaced"}
		}
		return Response{Status: StatusOK, Message: "inserted"}
	case "INSERT":
		if err := s.tree.Insert(ctx, req.Key, req.Value); err != nil {
			if errors.Is(err, blink.ErrKeyExists) {
				return Response{Status: StatusExists, Message: fmt.Sprintf("key %s already exists", req.Key)}
			}
			return s.failure(ctx, "INSERT", err)
		}
		return Response{Status: StatusOK, Message: "inserted"}
	case "GET":
		val, found, err := s.tree.Get(ctx, req.Key)
		if err != nil {
			return s.failure(ctx, "GET", err)
		}
		if !found {
			return Response{Status: StatusNotFound, Message: fmt.Sprintf("key %s not found", req.Key)}
		}
		return Response{Status: StatusOK, Message: val}
	case "DELETE":
		found, err := s.tree.Delete(ctx, req.Key)
		if err != nil {
			return s.failure(ctx, "DELETE", err)
		}
		if !found {
			return Response{Status: StatusNotFound, Message: fmt.Sprintf("key %s not found", req.Key)}
		}
		return Response{Status: StatusOK, Message: "deleted"}
	case "SCAN":
		return s.scan(ctx, req)
	case "SIZE":
		return Response{Status: StatusOK, Message: strconv.Itoa(s.tree.Len())}
	case "HEIGHT":
		return Response{Status: StatusOK, Message: strconv.Itoa(s.tree.Height())}
	case "VERIFY":
		if err := s.tree.Verify(ctx); err != nil {
			return s.failure(ctx, "VERIFY", err)
		}
		return Response{Status: StatusOK, Message: "consistent"}
	case "PING":
		return Response{Status: StatusOK, Message: "PONG"}
	default:
		return Response{Status: StatusError, Message: fmt.Sprintf("unsupported command: %s", req.Command)}
	}
}

func (s *Server) scan(ctx context.Context, req Request) Response {
	limit := s.cfg.MaxScanResults
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	var lines []string
	fn := func(k, v string) bool {
		lines = append(lines, k+" "+v)
		return len(lines) < limit
	}

	var err error
	switch {
	case req.From != "" && req.To != "":
		err = s.tree.AscendRange(ctx, req.From, req.To, fn)
	case req.From != "":
		err = s.tree.AscendGreaterOrEqual(ctx, req.From, fn)
	case req.To != "":
		err = s.tree.AscendLessThan(ctx, req.To, fn)
	default:
		err = s.tree.Ascend(ctx, fn)
	}
	if err != nil {
		return s.failure(ctx, "SCAN", err)
	}
	return Response{Status: StatusRows, Message: strconv.Itoa(len(lines)), Lines: lines}
}

func (s *Server) failure(ctx context.Context, command string, err error) Response {
	trace.SpanFromContext(ctx).RecordError(err)
	switch {
	case errors.Is(err, blink.ErrCanceled):
		return Response{Status: StatusBusy, Message: fmt.Sprintf("%s timed out waiting for a latch", command)}
	case blink.IsStructuralViolation(err):
		s.logger.Error("structural violation", zap.String("command", command), zap.Error(err))
	default:
		s.logger.Warn("request failed", zap.String("command", command), zap.Error(err))
	}
	return Response{Status: StatusError, Message: fmt.Sprintf("%s failed: %v", command, err)}
}
