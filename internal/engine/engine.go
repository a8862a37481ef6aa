// Package engine is the top-level façade: it wires the disk manager,
// buffer pool, WAL log manager, lock manager, transaction manager,
// recovery manager and catalog together, runs ARIES recovery on open,
// and translates plan.Node statements into either row results
// (Execute) or a row-count status (ExecuteStatus), standing in for the
// non-goal SQL engine's execute_sql entry point.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reinhardbuyabo/chronosdb/internal/btree"
	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/catalog"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/config"
	"github.com/reinhardbuyabo/chronosdb/internal/diag"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/exec"
	"github.com/reinhardbuyabo/chronosdb/internal/heap"
	"github.com/reinhardbuyabo/chronosdb/internal/lockmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/recovery"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
	"github.com/reinhardbuyabo/chronosdb/internal/walog"
)

// Engine owns every storage/execution component for one data file.
type Engine struct {
	cfg config.Config

	disk    *diskmgr.Manager
	log     *walog.LogManager
	pool    *buffer.Pool
	locks   *lockmgr.Manager
	txnMgr  *txn.Manager
	recov   *recovery.Manager
	Catalog *catalog.Catalog

	checkpoint *cron.Cron
}

// Open opens (or creates) the data file at cfg.DataFile, replays its WAL
// through ARIES recovery, and returns a ready-to-use Engine. sink may be
// nil, in which case diag.StdErrSink is used.
func Open(cfg config.Config, sink diag.Sink) (*Engine, error) {
	if sink == nil {
		sink = diag.NewStdErrSink()
	}

	disk, err := diskmgr.Open(cfg.DataFile)
	if err != nil {
		return nil, err
	}

	startLsn, err := existingWalSize(cfg.WALPath())
	if err != nil {
		disk.Close()
		return nil, err
	}
	logMgr, err := walog.Open(cfg.WALPath(), startLsn, cfg.WALBufferSize)
	if err != nil {
		disk.Close()
		return nil, err
	}

	pool := buffer.New(disk, logMgr, cfg.BufferPoolFrames)
	locks := lockmgr.New(cfg.LockTimeout)
	txnMgr := txn.New(logMgr, locks)
	recov := recovery.New(cfg.WALPath(), txnMgr, sink)

	if err := recov.Recover(pool); err != nil {
		logMgr.Close()
		disk.Close()
		return nil, fmt.Errorf("engine: recovery: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		disk:    disk,
		log:     logMgr,
		pool:    pool,
		locks:   locks,
		txnMgr:  txnMgr,
		recov:   recov,
		Catalog: catalog.New(),
	}

	if cfg.CheckpointCron != "" {
		if err := e.startCheckpointScheduler(sink); err != nil {
			e.Close()
			return nil, err
		}
	}

	return e, nil
}

// existingWalSize returns the file's current size, the LSN the next
// Append should resume from on a restart, or 0 for a fresh log.
func existingWalSize(path string) (walog.Lsn, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, chronoserr.Wrap(chronoserr.KindIO, "engine: stat wal file", err)
	}
	return walog.Lsn(info.Size()), nil
}

// startCheckpointScheduler runs Pool.FlushAll(Force) on cfg.CheckpointCron's
// schedule, grounded on the teacher's internal/storage/scheduler.go
// cron.AddFunc pattern.
func (e *Engine) startCheckpointScheduler(sink diag.Sink) error {
	loc, _ := time.LoadLocation("UTC")
	c := cron.New(cron.WithLocation(loc), cron.WithSeconds())
	_, err := c.AddFunc(e.cfg.CheckpointCron, func() {
		if err := e.pool.FlushAll(buffer.FlushForce); err != nil {
			sink.Recordf("engine: checkpoint flush failed: %v", err)
			return
		}
		sink.Recordf("engine: checkpoint flush completed")
	})
	if err != nil {
		return fmt.Errorf("engine: invalid checkpoint schedule %q: %w", e.cfg.CheckpointCron, err)
	}
	e.checkpoint = c
	c.Start()
	return nil
}

// Close stops the checkpoint scheduler (if running), force-flushes every
// page, and closes the WAL and data files.
func (e *Engine) Close() error {
	if e.checkpoint != nil {
		ctx := e.checkpoint.Stop()
		<-ctx.Done()
	}
	var firstErr error
	if err := e.pool.FlushAll(buffer.FlushForce); err != nil {
		firstErr = err
	}
	if err := e.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.disk.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// BeginTxn starts a transaction and attaches it to the returned context.
func (e *Engine) BeginTxn(ctx context.Context) (context.Context, *txn.Handle, error) {
	h, err := e.txnMgr.Begin()
	if err != nil {
		return ctx, nil, err
	}
	return txn.WithTransaction(ctx, h), h, nil
}

// CommitTxn durably commits h.
func (e *Engine) CommitTxn(h *txn.Handle) error { return e.txnMgr.Commit(h) }

// AbortTxn undoes h's page writes via single-transaction rollback, then
// marks it aborted.
func (e *Engine) AbortTxn(h *txn.Handle) error {
	return e.recov.RollbackTransaction(e.pool, h)
}

// CreateIndex attaches a new index to table on columns, building it over
// any rows already present. Not a plan.Node (index DDL is outside the
// logical plan's statement set), called directly by setup code.
func (e *Engine) CreateIndex(ctx context.Context, table string, name string, columns []string, unique bool) error {
	info, ok := e.Catalog.Lookup(table)
	if !ok {
		return chronoserr.New(chronoserr.KindTableNotFound, "table not found: "+table)
	}
	if len(columns) != 1 {
		return chronoserr.New(chronoserr.KindUnsupportedPlan, "composite index creation is not supported")
	}
	keyType, err := info.ColumnKeyType(columns[0])
	if err != nil {
		return err
	}
	tree, err := btree.Create(e.pool, e.txnMgr, keyType, 0, unique)
	if err != nil {
		return err
	}

	scan := heap.NewScan(info.Heap, info.Schema)
	if err := scan.Open(); err != nil {
		return err
	}
	defer scan.Close()
	colIdx := info.Schema.FieldIndex(columns[0])
	for {
		tuple, rid, ok, err := scan.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		v, _ := tuple.Get(colIdx)
		key, err := values.FromValue(v, keyType)
		if err != nil {
			return err
		}
		if err := tree.Insert(ctx, key, rid); err != nil {
			return err
		}
	}

	info.Indexes = append(info.Indexes, &catalog.IndexInfo{Name: name, Columns: columns, Unique: unique, Tree: tree})
	return nil
}

// Rows is the result of a row-returning Execute call.
type Rows struct {
	Schema values.Schema
	Tuples []values.Tuple
}

// Status is the result of a non-row-returning ExecuteStatus call.
type Status struct {
	RowsAffected int
}

// Execute runs a Select statement's query through the physical planner
// and Volcano executor, returning every produced row.
func (e *Engine) Execute(ctx context.Context, node plan.Node) (*Rows, error) {
	sel, ok := node.(plan.Select)
	if !ok {
		return nil, chronoserr.New(chronoserr.KindUnsupportedPlan, "Execute requires a Select statement; use ExecuteStatus for DDL/DML")
	}
	planner := exec.NewPhysicalPlanner(e.Catalog)
	op, schema, err := planner.Plan(sel.Query)
	if err != nil {
		return nil, err
	}
	tuples, err := exec.NewExecutor(op).Run()
	if err != nil {
		return nil, err
	}
	return &Rows{Schema: schema, Tuples: tuples}, nil
}

// ExecuteStatus runs a non-row-returning statement (CreateTable, Insert,
// Delete, Update) and reports the number of rows it affected.
func (e *Engine) ExecuteStatus(ctx context.Context, node plan.Node) (*Status, error) {
	switch n := node.(type) {
	case plan.CreateTable:
		return e.createTable(n)
	case plan.Insert:
		return e.insert(ctx, n)
	case plan.Delete:
		return e.delete(ctx, n)
	case plan.Update:
		return e.update(ctx, n)
	default:
		return nil, chronoserr.New(chronoserr.KindUnsupportedPlan, fmt.Sprintf("unsupported statement type %T", node))
	}
}

func (e *Engine) createTable(n plan.CreateTable) (*Status, error) {
	h, err := heap.Create(e.pool, e.txnMgr)
	if err != nil {
		return nil, err
	}
	info := &catalog.TableInfo{Name: n.Table, Schema: n.Schema, Heap: h}
	if err := e.Catalog.Register(info); err != nil {
		return nil, err
	}
	return &Status{}, nil
}

func (e *Engine) insert(ctx context.Context, n plan.Insert) (*Status, error) {
	table, ok := e.Catalog.Lookup(n.Table)
	if !ok {
		return nil, chronoserr.New(chronoserr.KindTableNotFound, "table not found: "+n.Table)
	}
	for _, row := range n.Rows {
		if _, err := table.InsertTuple(ctx, row); err != nil {
			return nil, err
		}
	}
	return &Status{RowsAffected: len(n.Rows)}, nil
}

func (e *Engine) delete(ctx context.Context, n plan.Delete) (*Status, error) {
	table, ok := e.Catalog.Lookup(n.Table)
	if !ok {
		return nil, chronoserr.New(chronoserr.KindTableNotFound, "table not found: "+n.Table)
	}
	match := matchFunc(n.Filter, table.Schema)
	count, err := table.DeleteTuples(ctx, match)
	if err != nil {
		return nil, err
	}
	return &Status{RowsAffected: count}, nil
}

func (e *Engine) update(ctx context.Context, n plan.Update) (*Status, error) {
	table, ok := e.Catalog.Lookup(n.Table)
	if !ok {
		return nil, chronoserr.New(chronoserr.KindTableNotFound, "table not found: "+n.Table)
	}
	match := matchFunc(n.Filter, table.Schema)
	assign := assignFunc(n.Assignments, table.Schema)
	results, err := table.UpdateTuples(ctx, match, assign)
	if err != nil {
		return nil, err
	}
	return &Status{RowsAffected: len(results)}, nil
}

func matchFunc(filter plan.Expr, schema values.Schema) func(values.Tuple) (bool, error) {
	if filter == nil {
		return func(values.Tuple) (bool, error) { return true, nil }
	}
	return func(tuple values.Tuple) (bool, error) {
		return exec.EvaluatePredicate(filter, tuple, schema)
	}
}

func assignFunc(assignments []plan.Assignment, schema values.Schema) func(values.Tuple) (values.Tuple, error) {
	return func(tuple values.Tuple) (values.Tuple, error) {
		out := values.NewTuple(append([]values.Value(nil), tuple.Values...))
		for _, a := range assignments {
			idx := schema.FieldIndex(a.Column)
			if idx < 0 {
				return values.Tuple{}, chronoserr.New(chronoserr.KindSchema, "no such column: "+a.Column)
			}
			v, err := exec.EvaluateExpr(a.Value, tuple, schema)
			if err != nil {
				return values.Tuple{}, err
			}
			out.Values[idx] = v
		}
		return out, nil
	}
}
