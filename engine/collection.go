// Package engine implements the streaming Collection (spec §3, §5, §6):
// the public contract an external collaborator (parser, CLI, framework
// adapter) drives, wiring the ring buffer/scheduler (package ring), the
// compiled operator graph (packages operator/fuser), and the row-id
// document store together behind insert/update/remove/materialize.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/TomNeyland/modash.js-sub008/dimension"
	"github.com/TomNeyland/modash.js-sub008/errs"
	"github.com/TomNeyland/modash.js-sub008/fuser"
	"github.com/TomNeyland/modash.js-sub008/internal/enginelog"
	"github.com/TomNeyland/modash.js-sub008/operator"
	"github.com/TomNeyland/modash.js-sub008/ring"
	"github.com/TomNeyland/modash.js-sub008/value"
	"go.uber.org/zap"
)

// FallbackDiagnostic is the structured record derived (by
// asFallbackDiagnostic) from the *errs.ParseError Install returns when a
// stage or operator falls outside the incremental core's supported set;
// Install logs it and Aggregate uses it to delegate. Shaped after the teacher's
// WatchEvent[T] (operation + detail) so a caller can pattern-match
// on it rather than parse a string (spec §6, "producing an explicit
// fallback diagnostic record").
type FallbackDiagnostic struct {
	StageIndex int
	StageName  string
	Reason     string
}

// Evaluator is the external standard one-shot evaluator collaborator
// (spec §6): given a pipeline and a document set, it computes the same
// result the incremental core would, using whatever general-purpose
// strategy it likes. The core delegates to it on fallback.
type Evaluator interface {
	Evaluate(pipeline []map[string]interface{}, docs []value.Document) ([]value.Document, error)
}

// Stats reports the collection's running counters (spec §6, "stats()").
type Stats struct {
	DeltasIn           uint64
	BatchesOut         uint64
	BackpressureEvents uint64
	FallbackCount      uint64
	QueueUtilization   float64
	AvgBatchSize       float64
	AvgLatencyMs       float64
}

// Collection is one streaming aggregation pipeline over an in-memory
// document set (spec §3). It owns its document store, its compiled
// operator graph, and the ring buffer/scheduler that feed deltas from
// producer calls into that graph.
type Collection struct {
	mu sync.Mutex

	id     string
	logger *zap.Logger
	cfg    Config

	nextRowID int
	docs      map[int]value.Document

	pipeline []map[string]interface{}
	graph    *operator.Graph
	fusions  []fuser.Decision

	buf  *ring.Buffer
	bp   *ring.Backpressure
	sch  *ring.Scheduler
	seq  uint64

	poisoned    bool
	poisonedErr error

	dims    map[string]*dimension.Dimension
	dimFlt  singleflight.Group

	statsMu            sync.Mutex
	deltasIn           uint64
	batchesOut         uint64
	backpressureEvents uint64
	fallbackCount      uint64
	batchSizeSum       uint64
	latencySumNanos    int64
	latencyCount       uint64

	closed bool
}

// New returns a Collection preloaded with initial_docs (spec §6,
// "new(initial_docs) -> Collection"), each assigned a fresh row-id in
// slice order. No pipeline is installed; Materialize returns the raw
// document set until Install is called.
func New(initialDocs []value.Document, opts ...Option) *Collection {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	id := uuid.NewString()
	c := &Collection{
		id:     id,
		logger: enginelog.With(zap.String("collection", id)),
		cfg:    cfg,
		docs:   make(map[int]value.Document, len(initialDocs)),
		buf:    ring.NewBuffer(cfg.RingCapacity),
		bp:     &ring.Backpressure{HighWater: cfg.BackpressureHi, LowWater: cfg.BackpressureLo},
		sch:    ring.NewScheduler(),
		dims:   make(map[string]*dimension.Dimension),
	}
	c.sch.Target = cfg.SchedulerTarget
	c.sch.Cadence = cfg.Cadence

	for _, d := range initialDocs {
		c.nextRowID++
		c.docs[c.nextRowID] = d
	}
	return c
}

// Install compiles pipeline into the operator graph (spec §6,
// "install(pipeline) -> void"), fusing it per the Config's fuser
// guardrails, and replays the current document store through it so
// Materialize reflects the new pipeline immediately. When a stage can't
// be compiled, the compile error is returned and the previous pipeline
// stays installed; for an unsupported stage or operator that error is a
// *errs.ParseError wrapping errs.ErrUnsupportedStage/ErrUnsupportedOperator,
// and the collection also logs a fallback diagnostic. Install returns the
// error whether or not a fallback Evaluator is configured; only Aggregate
// invokes Fallback.
func (c *Collection) Install(pipeline []map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return err
	}

	g, decisions, err := fuser.Fuse(pipeline, c.cfg.Fuser)
	if err != nil {
		if diag, ok := asFallbackDiagnostic(err); ok {
			c.logger.Warn("install falling back to external evaluator",
				zap.Int("stage_index", diag.StageIndex),
				zap.String("stage_name", diag.StageName),
				zap.String("reason", diag.Reason))
			c.statsMu.Lock()
			c.fallbackCount++
			c.statsMu.Unlock()
		}
		return err
	}

	c.pipeline = pipeline
	c.graph = g
	c.fusions = decisions
	c.logger.Info("pipeline installed",
		zap.Int("stage_count", len(pipeline)),
		zap.Int("compiled_node_count", len(g.Stages())))

	return c.replayLocked()
}

// replayLocked resets the graph and feeds every live document through
// it as a fresh insert, in ascending row-id order for determinism.
func (c *Collection) replayLocked() error {
	c.graph.Reset()
	rowids := make([]int, 0, len(c.docs))
	for rowid := range c.docs {
		rowids = append(rowids, rowid)
	}
	sort.Ints(rowids)

	batch := make(operator.Batch, 0, len(rowids))
	for _, rowid := range rowids {
		batch = append(batch, operator.Delta{Op: operator.OpInsert, Row: operator.RowKeyOf(rowid), After: c.docs[rowid]})
	}
	if _, err := c.graph.Push(batch); err != nil {
		return c.poisonLocked("install", err.Error())
	}
	return nil
}

// Insert adds doc as a new row and, if a pipeline is installed, pushes
// the resulting delta through it. Returns the assigned row-id (spec
// §6, "insert(doc) -> rowid").
func (c *Collection) Insert(doc value.Document) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return 0, err
	}
	c.nextRowID++
	rowid := c.nextRowID
	c.docs[rowid] = doc
	c.indexDimsLocked(rowid, doc)
	if err := c.produceLocked(ring.Batch{{Op: ring.OpInsert, RowID: rowid, After: doc}}); err != nil {
		return 0, err
	}
	return rowid, nil
}

// InsertBatch inserts every document in docs, returning their assigned
// row-ids in order (spec §6, "insert_batch(docs) -> rowids").
func (c *Collection) InsertBatch(docs []value.Document) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return nil, err
	}
	rowids := make([]int, len(docs))
	batch := make(ring.Batch, len(docs))
	for i, d := range docs {
		c.nextRowID++
		rowid := c.nextRowID
		c.docs[rowid] = d
		c.indexDimsLocked(rowid, d)
		rowids[i] = rowid
		batch[i] = ring.Delta{Op: ring.OpInsert, RowID: rowid, After: d}
	}
	if err := c.produceLocked(batch); err != nil {
		return nil, err
	}
	return rowids, nil
}

// Update replaces rowid's document with doc, reports whether rowid
// existed (spec §6, "update(rowid, doc) -> bool").
func (c *Collection) Update(rowid int, doc value.Document) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return false, err
	}
	before, ok := c.docs[rowid]
	if !ok {
		return false, nil
	}
	c.docs[rowid] = doc
	for _, d := range c.dims {
		d.RemoveDocument(rowid)
	}
	c.indexDimsLocked(rowid, doc)
	if err := c.produceLocked(ring.Batch{{Op: ring.OpUpdate, RowID: rowid, Before: before, After: doc}}); err != nil {
		return false, err
	}
	return true, nil
}

// indexDimsLocked adds rowid's resolved value into every already-built
// dimension, keeping lazily-built indices in sync with documents
// inserted or updated after they were first built.
func (c *Collection) indexDimsLocked(rowid int, doc value.Document) {
	for path, d := range c.dims {
		d.AddDocument(rowid, value.Resolve(doc, path))
	}
}

// Remove deletes rowid, reports whether it existed (spec §6,
// "remove(rowid) -> bool").
func (c *Collection) Remove(rowid int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return false, err
	}
	before, ok := c.docs[rowid]
	if !ok {
		return false, nil
	}
	delete(c.docs, rowid)
	for _, d := range c.dims {
		d.RemoveDocument(rowid)
	}
	if err := c.produceLocked(ring.Batch{{Op: ring.OpDelete, RowID: rowid, Before: before}}); err != nil {
		return false, err
	}
	return true, nil
}

// produceLocked enqueues batch onto the ring buffer honoring
// backpressure hysteresis, then drains whatever the scheduler's cadence
// policy allows right now (spec §4.9, §5: producer calls never block,
// but on a cooperative single-threaded runtime draining inline is the
// consumer context taking its turn).
func (c *Collection) produceLocked(batch ring.Batch) error {
	c.statsMu.Lock()
	c.deltasIn += uint64(len(batch))
	c.statsMu.Unlock()

	util := c.buf.Utilization()
	if !c.bp.Allow(util) {
		c.statsMu.Lock()
		c.backpressureEvents++
		c.statsMu.Unlock()
		c.logger.Warn("backpressure rejected produce", zap.Float64("utilization", util))
		return errs.ErrCapacity
	}
	c.seq++
	if !c.buf.Produce(batch) {
		c.statsMu.Lock()
		c.backpressureEvents++
		c.statsMu.Unlock()
		return errs.ErrCapacity
	}
	return c.drainLocked(false)
}

// drainLocked consumes queued batches through the operator graph.
// force bypasses the scheduler's cadence floor (used by Materialize/
// Aggregate, which must reflect every queued delta synchronously).
func (c *Collection) drainLocked(force bool) error {
	if c.graph == nil {
		c.buf.Drain()
		return nil
	}
	for {
		util := c.buf.Utilization()
		if !force && !c.sch.ShouldEmit(time.Now(), util) {
			return nil
		}
		batch, ok := c.buf.Consume()
		if !ok {
			return nil
		}
		start := time.Now()
		if _, err := c.graph.Push(toOperatorBatch(batch)); err != nil {
			return c.poisonLocked("graph", err.Error())
		}
		latency := time.Since(start)
		c.sch.RecordLatency(latency, c.buf.Utilization())
		c.sch.MarkEmitted(time.Now())

		c.statsMu.Lock()
		c.batchesOut++
		c.batchSizeSum += uint64(len(batch))
		c.latencySumNanos += latency.Nanoseconds()
		c.latencyCount++
		c.statsMu.Unlock()
	}
}

func toOperatorBatch(b ring.Batch) operator.Batch {
	out := make(operator.Batch, len(b))
	for i, d := range b {
		out[i] = operator.Delta{
			Op:     toOperatorOp(d.Op),
			Row:    operator.RowKeyOf(d.RowID),
			Before: asDocument(d.Before),
			After:  asDocument(d.After),
		}
	}
	return out
}

// toOperatorOp translates the ring package's wire-level Op enum into
// the operator package's own (the two are defined independently and do
// not share numeric values).
func toOperatorOp(op ring.Op) operator.Op {
	switch op {
	case ring.OpInsert:
		return operator.OpInsert
	case ring.OpUpdate:
		return operator.OpUpdate
	case ring.OpDelete:
		return operator.OpDelete
	}
	return operator.OpInsert
}

func asDocument(v interface{}) value.Document {
	if v == nil {
		return nil
	}
	return v.(value.Document)
}

// Materialize returns the current result of the installed pipeline
// (spec §6), forcing a full drain of any queued deltas first so the
// result reflects every Insert/Update/Remove already accepted.
func (c *Collection) Materialize() ([]value.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAliveLocked(); err != nil {
		return nil, err
	}
	if err := c.drainLocked(true); err != nil {
		return nil, err
	}
	if c.graph == nil {
		out := make([]value.Document, 0, len(c.docs))
		rowids := make([]int, 0, len(c.docs))
		for rowid := range c.docs {
			rowids = append(rowids, rowid)
		}
		sort.Ints(rowids)
		for _, rowid := range rowids {
			out = append(out, c.docs[rowid])
		}
		return out, nil
	}
	return c.graph.Materialize(), nil
}

// Aggregate is the one-shot convenience form (spec §6,
// "aggregate(pipeline) -> documents"): it installs pipeline, reads the
// result, and restores whatever pipeline was installed before, so
// callers can run an ad hoc query without disturbing the collection's
// long-lived streaming pipeline. If pipeline fails to compile and a
// fallback Evaluator is configured, the evaluator runs instead (spec
// §6, "the core delegates when any unsupported stage or operator is
// seen").
func (c *Collection) Aggregate(pipeline []map[string]interface{}) ([]value.Document, error) {
	c.mu.Lock()
	priorPipeline := c.pipeline
	priorGraph := c.graph
	priorFusions := c.fusions
	c.mu.Unlock()

	if err := c.Install(pipeline); err != nil {
		if diag, ok := asFallbackDiagnostic(err); ok && c.cfg.Fallback != nil {
			docs, ferr := c.cfg.Fallback.Evaluate(pipeline, c.snapshotDocs())
			if ferr != nil {
				return nil, ferr
			}
			c.logger.Info("aggregate used external fallback evaluator",
				zap.Int("stage_index", diag.StageIndex), zap.String("stage_name", diag.StageName))
			return docs, nil
		}
		return nil, err
	}
	out, err := c.Materialize()

	c.mu.Lock()
	c.pipeline = priorPipeline
	c.graph = priorGraph
	c.fusions = priorFusions
	if c.graph != nil {
		_ = c.replayLocked()
	}
	c.mu.Unlock()

	return out, err
}

func (c *Collection) snapshotDocs() []value.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	rowids := make([]int, 0, len(c.docs))
	for rowid := range c.docs {
		rowids = append(rowids, rowid)
	}
	sort.Ints(rowids)
	out := make([]value.Document, 0, len(rowids))
	for _, rowid := range rowids {
		out = append(out, c.docs[rowid])
	}
	return out
}

// Dimension returns the lazily-built value->row-id index over path,
// deduping concurrent first-touch builds with singleflight so two
// operators racing to materialize the same field-path dimension share
// one build instead of double-scanning the store (spec §3, "the
// dimension set is built lazily on first reference by any stage").
func (c *Collection) Dimension(path string) (*dimension.Dimension, error) {
	c.mu.Lock()
	if d, ok := c.dims[path]; ok {
		c.mu.Unlock()
		return d, nil
	}
	docs := make(map[int]value.Document, len(c.docs))
	for k, v := range c.docs {
		docs[k] = v
	}
	c.mu.Unlock()

	v, err, _ := c.dimFlt.Do(path, func() (interface{}, error) {
		d := dimension.New(path)
		rowids := make([]int, 0, len(docs))
		for rowid := range docs {
			rowids = append(rowids, rowid)
		}
		sort.Ints(rowids)
		for _, rowid := range rowids {
			d.AddDocument(rowid, value.Resolve(docs[rowid], path))
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	d := v.(*dimension.Dimension)

	c.mu.Lock()
	c.dims[path] = d
	c.mu.Unlock()
	return d, nil
}

// Stats reports the collection's running counters (spec §6).
func (c *Collection) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := Stats{
		DeltasIn:           c.deltasIn,
		BatchesOut:         c.batchesOut,
		BackpressureEvents: c.backpressureEvents,
		FallbackCount:      c.fallbackCount,
		QueueUtilization:   c.buf.Utilization(),
	}
	if c.batchesOut > 0 {
		s.AvgBatchSize = float64(c.batchSizeSum) / float64(c.batchesOut)
	}
	if c.latencyCount > 0 {
		s.AvgLatencyMs = (float64(c.latencySumNanos) / float64(c.latencyCount)) / float64(time.Millisecond)
	}
	return s
}

// Destroy clears state, drains and discards the ring buffer, and
// releases indices (spec §5, "destroy() clears state, drains and
// discards the ring buffer, and releases indices"). It uses errgroup
// to run the buffer poison/drain concurrently with clearing the
// dimension indices, collecting the first error, mirroring the
// teacher's transactional teardown discipline.
func (c *Collection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var g errgroup.Group
	g.Go(func() error {
		c.buf.Poison()
		c.buf.Drain()
		return nil
	})
	g.Go(func() error {
		c.dims = make(map[string]*dimension.Dimension)
		return nil
	})
	err := g.Wait()

	c.docs = nil
	if c.graph != nil {
		c.graph.Reset()
	}
	c.logger.Info("collection destroyed")
	return err
}

func (c *Collection) checkAliveLocked() error {
	if c.closed {
		return errs.ErrClosed
	}
	if c.poisoned {
		return c.poisonedErr
	}
	return nil
}

// poisonLocked transitions the collection to the poisoned state (spec
// §7): every subsequent operation returns an error wrapping
// errs.ErrPoisoned.
func (c *Collection) poisonLocked(stage, detail string) error {
	c.poisoned = true
	c.poisonedErr = errs.NewInvariantError(stage, detail)
	c.logger.Error("collection poisoned", zap.String("stage", stage), zap.String("detail", detail))
	return c.poisonedErr
}

func asFallbackDiagnostic(err error) (FallbackDiagnostic, bool) {
	pe, ok := err.(*errs.ParseError)
	if !ok {
		return FallbackDiagnostic{}, false
	}
	if !pe.Is(errs.ErrUnsupportedStage) && !pe.Is(errs.ErrUnsupportedOperator) {
		return FallbackDiagnostic{}, false
	}
	return FallbackDiagnostic{StageIndex: pe.StageIndex, StageName: pe.StageName, Reason: pe.Reason}, true
}

// ID returns the collection's instance identifier, used to correlate
// its log lines across a multi-collection deployment.
func (c *Collection) ID() string { return c.id }
