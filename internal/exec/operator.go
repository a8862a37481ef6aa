package exec

import (
	"context"
	"strings"

	"github.com/reinhardbuyabo/chronosdb/internal/btree"
	"github.com/reinhardbuyabo/chronosdb/internal/catalog"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/heap"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

// PhysicalOperator is one node of the Volcano execution tree: open
// acquires resources, next produces tuples one at a time, close always
// runs, even after an error (spec §4.11).
type PhysicalOperator interface {
	Open() error
	Next() (values.Tuple, bool, error)
	Close() error
}

// SeqScan yields every tuple of a table heap in storage order.
type SeqScan struct {
	scan *heap.Scan
}

// NewSeqScan wraps a heap scan as a PhysicalOperator.
func NewSeqScan(h *heap.Heap, schema values.Schema) *SeqScan {
	return &SeqScan{scan: heap.NewScan(h, schema)}
}

func (s *SeqScan) Open() error { return s.scan.Open() }
func (s *SeqScan) Next() (values.Tuple, bool, error) {
	tuple, _, ok, err := s.scan.Next()
	return tuple, ok, err
}
func (s *SeqScan) Close() error { return s.scan.Close() }

// IndexScan dereferences the RIDs an index range scan yields through the
// heap, skipping any tombstoned slot (spec §4.11).
type IndexScan struct {
	heap   *heap.Heap
	schema values.Schema
	tree   *btree.Tree
	rng    btree.Range
	rids   []values.Rid
	pos    int
}

// NewIndexScan builds an IndexScan over tree's rng, resolving matches
// through h.
func NewIndexScan(h *heap.Heap, schema values.Schema, tree *btree.Tree, rng btree.Range) *IndexScan {
	return &IndexScan{heap: h, schema: schema, tree: tree, rng: rng}
}

func (s *IndexScan) Open() error {
	rids, err := s.tree.RangeScan(s.rng)
	if err != nil {
		return err
	}
	s.rids = rids
	s.pos = 0
	return nil
}

func (s *IndexScan) Next() (values.Tuple, bool, error) {
	for s.pos < len(s.rids) {
		rid := s.rids[s.pos]
		s.pos++
		tuple, ok, err := s.heap.GetTuple(rid, s.schema)
		if err != nil {
			return values.Tuple{}, false, err
		}
		if ok {
			return tuple, true, nil
		}
	}
	return values.Tuple{}, false, nil
}

func (s *IndexScan) Close() error {
	s.rids = nil
	s.pos = 0
	return nil
}

// Filter passes through tuples for which predicate evaluates to
// Boolean(true); Null drops the row.
type Filter struct {
	Child     PhysicalOperator
	Predicate plan.Expr
	Schema    values.Schema
}

func (f *Filter) Open() error { return f.Child.Open() }
func (f *Filter) Next() (values.Tuple, bool, error) {
	for {
		tuple, ok, err := f.Child.Next()
		if err != nil || !ok {
			return values.Tuple{}, false, err
		}
		matched, err := EvaluatePredicate(f.Predicate, tuple, f.Schema)
		if err != nil {
			return values.Tuple{}, false, err
		}
		if matched {
			return tuple, true, nil
		}
	}
}
func (f *Filter) Close() error { return f.Child.Close() }

// projectionItem is either a straight field copy or an expression to
// evaluate, resolved once on open.
type projectionItem struct {
	fieldIndex int
	expr       plan.Expr
	isField    bool
}

// Projection evaluates Exprs (expanding any Wildcard/QualifiedWildcard
// against InputSchema) per input row.
type Projection struct {
	Child       PhysicalOperator
	Exprs       []plan.Expr
	InputSchema values.Schema

	items []projectionItem
}

func (p *Projection) Open() error {
	if err := p.Child.Open(); err != nil {
		return err
	}
	items, err := resolveProjectionItems(p.Exprs, p.InputSchema)
	if err != nil {
		return err
	}
	p.items = items
	return nil
}

func (p *Projection) Next() (values.Tuple, bool, error) {
	tuple, ok, err := p.Child.Next()
	if err != nil || !ok {
		return values.Tuple{}, false, err
	}
	out := make([]values.Value, len(p.items))
	for i, item := range p.items {
		if item.isField {
			v, ok := tuple.Get(item.fieldIndex)
			if !ok {
				return values.Tuple{}, false, chronoserr.New(chronoserr.KindSchema, "projection index out of range")
			}
			out[i] = v
			continue
		}
		v, err := EvaluateExpr(item.expr, tuple, p.InputSchema)
		if err != nil {
			return values.Tuple{}, false, err
		}
		out[i] = v
	}
	return values.NewTuple(out), true, nil
}

func (p *Projection) Close() error {
	p.items = nil
	return p.Child.Close()
}

func resolveProjectionItems(exprs []plan.Expr, input values.Schema) ([]projectionItem, error) {
	var items []projectionItem
	for _, e := range exprs {
		switch v := e.(type) {
		case plan.Wildcard:
			for i := range input.Fields {
				items = append(items, projectionItem{fieldIndex: i, isField: true})
			}
		case plan.QualifiedWildcard:
			matched := false
			for i, f := range input.Fields {
				if tableMatchesQualifier(f, v.Table) {
					matched = true
					items = append(items, projectionItem{fieldIndex: i, isField: true})
				}
			}
			if !matched {
				return nil, chronoserr.New(chronoserr.KindSchema, "qualified wildcard "+v.Table+" did not match any columns")
			}
		default:
			items = append(items, projectionItem{expr: e})
		}
	}
	return items, nil
}

// NestedLoopJoin pulls one left tuple at a time, re-scanning right for
// every left tuple, yielding concatenations satisfying Predicate.
type NestedLoopJoin struct {
	Left, Right         PhysicalOperator
	Predicate           plan.Expr
	CombinedSchema      values.Schema
	currentLeft         *values.Tuple
	rightOpen           bool
}

func (j *NestedLoopJoin) Open() error {
	if err := j.Left.Open(); err != nil {
		return err
	}
	if err := j.Right.Open(); err != nil {
		return err
	}
	j.rightOpen = true
	j.currentLeft = nil
	return nil
}

func (j *NestedLoopJoin) Next() (values.Tuple, bool, error) {
	for {
		if j.currentLeft == nil {
			left, ok, err := j.Left.Next()
			if err != nil {
				return values.Tuple{}, false, err
			}
			if !ok {
				return values.Tuple{}, false, nil
			}
			j.currentLeft = &left
			if j.rightOpen {
				if err := j.Right.Close(); err != nil {
					return values.Tuple{}, false, err
				}
			}
			if err := j.Right.Open(); err != nil {
				return values.Tuple{}, false, err
			}
			j.rightOpen = true
		}

		right, ok, err := j.Right.Next()
		if err != nil {
			return values.Tuple{}, false, err
		}
		if !ok {
			if j.rightOpen {
				if err := j.Right.Close(); err != nil {
					return values.Tuple{}, false, err
				}
				j.rightOpen = false
			}
			j.currentLeft = nil
			continue
		}
		joined := j.currentLeft.Concat(right)
		matched, err := EvaluatePredicate(j.Predicate, joined, j.CombinedSchema)
		if err != nil {
			return values.Tuple{}, false, err
		}
		if matched {
			return joined, true, nil
		}
	}
}

func (j *NestedLoopJoin) Close() error {
	var firstErr error
	if j.rightOpen {
		if err := j.Right.Close(); err != nil {
			firstErr = err
		}
		j.rightOpen = false
	}
	if err := j.Left.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	j.currentLeft = nil
	return firstErr
}

// Update buffers TableInfo.UpdateTuples's post-image result on open and
// drains it on Next (spec §4.11, §9 "resolved to POST-image").
type Update struct {
	Ctx     context.Context
	Table   *catalog.TableInfo
	Match   func(values.Tuple) (bool, error)
	Assign  func(values.Tuple) (values.Tuple, error)

	updated []values.Tuple
	pos     int
}

func (u *Update) Open() error {
	results, err := u.Table.UpdateTuples(u.Ctx, u.Match, u.Assign)
	if err != nil {
		return err
	}
	u.updated = results
	u.pos = 0
	return nil
}

func (u *Update) Next() (values.Tuple, bool, error) {
	if u.pos >= len(u.updated) {
		return values.Tuple{}, false, nil
	}
	t := u.updated[u.pos]
	u.pos++
	return t, true, nil
}

func (u *Update) Close() error {
	u.updated = nil
	u.pos = 0
	return nil
}

func tableMatchesQualifier(f values.Field, table string) bool {
	if f.Table != "" {
		return strings.EqualFold(f.Table, table)
	}
	return strings.EqualFold(lastSegment(f.Name), table)
}
