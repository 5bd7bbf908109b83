package internaltelemetry

import (
	"context"
	"time"

	"github.com/sushant-115/blinkdb/core/indexing/blink"
	"github.com/sushant-115/blinkdb/core/latch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TreeMetrics records B-link structural events. It implements blink.Observer.
type TreeMetrics struct {
	splits      metric.Int64Counter
	merges      metric.Int64Counter
	borrows     metric.Int64Counter
	moveRights  metric.Int64Counter
	outLinks    metric.Int64Counter
	rootChanges metric.Int64Counter
	height      metric.Int64Gauge
	latchWait   metric.Float64Histogram
}

var _ blink.Observer = (*TreeMetrics)(nil)

// NewTreeMetrics creates and registers the tree instruments on meter.
func NewTreeMetrics(meter metric.Meter) (*TreeMetrics, error) {
	m := &TreeMetrics{}
	counters := []struct {
		dst         *metric.Int64Counter
		name, descr string
	}{
		{&m.splits, "blinkdb.tree.node_splits", "Node splits, by level."},
		{&m.merges, "blinkdb.tree.node_merges", "Sibling merges, by level."},
		{&m.borrows, "blinkdb.tree.key_borrows", "Keys moved between siblings to fix an underflow, by level."},
		{&m.moveRights, "blinkdb.tree.move_rights", "Right-link hops taken to catch up with a split, by level."},
		{&m.outLinks, "blinkdb.tree.out_link_follows", "Out-links followed from merged nodes, by level."},
		{&m.rootChanges, "blinkdb.tree.root_changes", "Root splits and collapses."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.descr), metric.WithUnit("1"))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.height, err = meter.Int64Gauge(
		"blinkdb.tree.height",
		metric.WithDescription("Number of levels in the tree."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	m.latchWait, err = meter.Float64Histogram(
		"blinkdb.tree.latch_wait",
		metric.WithDescription("Time spent blocked on contended node latches."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func levelAttr(level int) metric.MeasurementOption {
	return metric.WithAttributes(attribute.Int("level", level))
}

func (m *TreeMetrics) NodeSplit(level int) {
	m.splits.Add(context.Background(), 1, levelAttr(level))
}

func (m *TreeMetrics) NodesMerged(level int) {
	m.merges.Add(context.Background(), 1, levelAttr(level))
}

func (m *TreeMetrics) KeyBorrowed(level int) {
	m.borrows.Add(context.Background(), 1, levelAttr(level))
}

func (m *TreeMetrics) MovedRight(level int) {
	m.moveRights.Add(context.Background(), 1, levelAttr(level))
}

func (m *TreeMetrics) OutLinkFollowed(level int) {
	m.outLinks.Add(context.Background(), 1, levelAttr(level))
}

func (m *TreeMetrics) RootChanged(height int) {
	m.rootChanges.Add(context.Background(), 1)
	m.RecordHeight(height)
}

// RecordHeight sets the height gauge. Call it once when attaching to a tree,
// since RootChanged only fires when the height moves.
func (m *TreeMetrics) RecordHeight(height int) {
	m.height.Record(context.Background(), int64(height))
}

func (m *TreeMetrics) LatchWaited(mode latch.Mode, wait time.Duration) {
	m.latchWait.Record(context.Background(), float64(wait)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("mode", mode.String())))
}
