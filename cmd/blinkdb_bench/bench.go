package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sushant-115/blinkdb/api/lineproto"
	"github.com/sushant-115/blinkdb/config"
	"github.com/sushant-115/blinkdb/core/indexing/blink"
	"github.com/sushant-115/blinkdb/pkg/connection"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const inprocTarget = "inproc"

// errBusy marks a remote BUSY reply so it is counted like a local latch timeout.
var errBusy = errors.New("server busy")

// Store is the key/value surface the benchmark drives.
type Store interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (found bool, err error)
}

type treeStore struct {
	tree *blink.Tree[string, string]
}

func (s *treeStore) Put(ctx context.Context, key, value string) error {
	_, err := s.tree.Put(ctx, key, value)
	return err
}

func (s *treeStore) Get(ctx context.Context, key string) (bool, error) {
	_, found, err := s.tree.Get(ctx, key)
	return found, err
}

type remoteStore struct {
	pool *connection.ConnectionPoolManager
	addr string
}

func (s *remoteStore) send(ctx context.Context, line string) (lineproto.Response, error) {
	conn, err := s.pool.Get(ctx, s.addr)
	if err != nil {
		return lineproto.Response{}, err
	}
	resp, err := lineproto.Send(ctx, conn, conn.Reader, line)
	if err != nil {
		// The stream may be mid-reply; do not hand it to the next caller.
		_ = conn.ForceClose()
		return resp, err
	}
	_ = conn.Close()
	return resp, nil
}

func (s *remoteStore) Put(ctx context.Context, key, value string) error {
	resp, err := s.send(ctx, "PUT "+key+" "+value)
	if err != nil {
		return err
	}
	switch resp.Status {
	case lineproto.StatusOK:
		return nil
	case lineproto.StatusBusy:
		return errors.Wrapf(errBusy, "put %s", key)
	default:
		return errors.Newf("put %s: %s %s", key, resp.Status, resp.Message)
	}
}

func (s *remoteStore) Get(ctx context.Context, key string) (bool, error) {
	resp, err := s.send(ctx, "GET "+key)
	if err != nil {
		return false, err
	}
	switch resp.Status {
	case lineproto.StatusOK:
		return true, nil
	case lineproto.StatusNotFound:
		return false, nil
	case lineproto.StatusBusy:
		return false, errors.Wrapf(errBusy, "get %s", key)
	default:
		return false, errors.Newf("get %s: %s %s", key, resp.Status, resp.Message)
	}
}

// Report summarizes one benchmark run.
type Report struct {
	RunID     string
	Reads     int64
	Hits      int64
	Writes    int64
	Busy      int64
	Elapsed   time.Duration
	OpsPerSec float64
}

func (r Report) log(l *zap.Logger) {
	l.Info("benchmark finished",
		zap.String("run_id", r.RunID),
		zap.Int64("reads", r.Reads),
		zap.Int64("hits", r.Hits),
		zap.Int64("writes", r.Writes),
		zap.Int64("busy", r.Busy),
		zap.Duration("elapsed", r.Elapsed),
		zap.String("throughput", fmt.Sprintf("%.0f ops/s", r.OpsPerSec)))
}

func benchKey(i int) string {
	return "key-" + strconv.Itoa(i)
}

// Run splits cfg.Operations across cfg.Workers goroutines. Each operation is
// a Get with probability cfg.ReadRatio and a Put otherwise. Operations that
// time out on a latch are counted as busy rather than failing the run.
func Run(ctx context.Context, cfg config.BenchConfig, store Store, l *zap.Logger) (Report, error) {
	rep := Report{RunID: uuid.NewString()}
	l = l.With(zap.String("run_id", rep.RunID))
	l.Info("benchmark starting",
		zap.String("target", cfg.Target),
		zap.Int("workers", cfg.Workers),
		zap.Int("operations", cfg.Operations),
		zap.Float64("read_ratio", cfg.ReadRatio))

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers)
	}

	var reads, hits, writes, busy atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		n := cfg.Operations / cfg.Workers
		if w < cfg.Operations%cfg.Workers {
			n++
		}
		rng := rand.New(rand.NewPCG(uint64(start.UnixNano()), uint64(w)))
		g.Go(func() error {
			for i := 0; i < n; i++ {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				key := benchKey(rng.IntN(cfg.KeySpace))
				var err error
				if rng.Float64() < cfg.ReadRatio {
					var found bool
					found, err = store.Get(gctx, key)
					if err == nil {
						reads.Add(1)
						if found {
							hits.Add(1)
						}
					}
				} else {
					err = store.Put(gctx, key, "value-"+key)
					if err == nil {
						writes.Add(1)
					}
				}
				switch {
				case err == nil:
				case (errors.Is(err, blink.ErrCanceled) || errors.Is(err, errBusy)) && gctx.Err() == nil:
					busy.Add(1)
				default:
					return errors.Wrapf(err, "worker %d", w)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	rep.Reads, rep.Hits, rep.Writes, rep.Busy = reads.Load(), hits.Load(), writes.Load(), busy.Load()
	rep.Elapsed = time.Since(start)
	if secs := rep.Elapsed.Seconds(); secs > 0 {
		rep.OpsPerSec = float64(rep.Reads+rep.Writes) / secs
	}
	return rep, err
}
