// Package catalog implements the system catalog: table metadata, each
// table's owned heap and attached indexes, and insert/delete/update with
// index maintenance (spec §4.10), grounded on the teacher's own
// system-catalog design (internal/pager/catalog.go) and the original
// engine's TableInfo (implicit in crates/query/src/execution/*).
package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/reinhardbuyabo/chronosdb/internal/btree"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/heap"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

// IndexInfo describes one index attached to a table.
type IndexInfo struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
	Tree    *btree.Tree
}

// TableInfo is one catalog-managed table: its schema, owned heap and the
// indexes maintained alongside it.
type TableInfo struct {
	mu      sync.RWMutex
	Name    string
	Schema  values.Schema
	Heap    *heap.Heap
	Indexes []*IndexInfo
}

// Catalog maps normalized (lower-cased) table names to TableInfo.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*TableInfo
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{tables: make(map[string]*TableInfo)}
}

func normalize(name string) string { return strings.ToLower(name) }

// Register adds a newly created table to the catalog.
func (c *Catalog) Register(info *TableInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalize(info.Name)
	if _, exists := c.tables[key]; exists {
		return chronoserr.New(chronoserr.KindConstraintViolation, "table already exists: "+info.Name)
	}
	c.tables[key] = info
	return nil
}

// Lookup finds a table by name (case-insensitive), or ok=false.
func (c *Catalog) Lookup(name string) (*TableInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[normalize(name)]
	return t, ok
}

// Drop removes a table from the catalog entirely.
func (c *Catalog) Drop(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalize(name)
	if _, ok := c.tables[key]; !ok {
		return chronoserr.New(chronoserr.KindTableNotFound, "no such table: "+name)
	}
	delete(c.tables, key)
	return nil
}

// RenameTable renames an existing table, metadata-only.
func (c *Catalog) RenameTable(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	oldKey := normalize(oldName)
	t, ok := c.tables[oldKey]
	if !ok {
		return chronoserr.New(chronoserr.KindTableNotFound, "no such table: "+oldName)
	}
	newKey := normalize(newName)
	if _, exists := c.tables[newKey]; exists {
		return chronoserr.New(chronoserr.KindConstraintViolation, "table already exists: "+newName)
	}
	t.mu.Lock()
	t.Name = newName
	t.mu.Unlock()
	delete(c.tables, oldKey)
	c.tables[newKey] = t
	return nil
}

// RenameColumn renames a visible column in place.
func (t *TableInfo) RenameColumn(oldName, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, f := range t.Schema.Fields {
		if f.Visible && strings.EqualFold(f.Name, oldName) {
			t.Schema.Fields[i].Name = newName
			return nil
		}
	}
	return chronoserr.New(chronoserr.KindSchema, "no such column: "+oldName)
}

// AddColumn appends field as a new visible column at the end of the
// schema; its Nullable flag is kept as given.
func (t *TableInfo) AddColumn(field values.Field) {
	t.mu.Lock()
	defer t.mu.Unlock()
	field.Visible = true
	t.Schema.Fields = append(t.Schema.Fields, field)
}

// DropColumn hides a column (spec §4.10: "flips visible=false", keeping
// the physical tuple layout valid for already-encoded rows). Fails if the
// column participates in a primary-key index.
func (t *TableInfo) DropColumn(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, idx := range t.Indexes {
		if idx.Primary && containsFold(idx.Columns, name) {
			return chronoserr.New(chronoserr.KindConstraintViolation, "cannot drop primary key column: "+name)
		}
	}
	for i, f := range t.Schema.Fields {
		if f.Visible && strings.EqualFold(f.Name, name) {
			t.Schema.Fields[i].Visible = false
			return nil
		}
	}
	return chronoserr.New(chronoserr.KindSchema, "no such column: "+name)
}

func containsFold(items []string, name string) bool {
	for _, it := range items {
		if strings.EqualFold(it, name) {
			return true
		}
	}
	return false
}

// ColumnKeyType resolves the IndexKeyType a single column would use as an
// index key, for callers (the physical planner's sargable-predicate rule)
// that build an equality key directly from a literal rather than a tuple.
func (t *TableInfo) ColumnKeyType(col string) (values.IndexKeyType, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.Schema.FieldIndex(col)
	if idx < 0 {
		return 0, chronoserr.New(chronoserr.KindSchema, "no such column: "+col)
	}
	if t.Schema.Fields[idx].DataType == values.Text {
		return values.KeyTypeText, nil
	}
	return values.KeyTypeInteger, nil
}

// indexKeyFor derives an index key from a tuple for the columns idx covers.
func (t *TableInfo) indexKeyFor(tuple values.Tuple, idx *IndexInfo) (values.IndexKey, error) {
	keyTypes := make([]values.IndexKeyType, len(idx.Columns))
	parts := make([]values.IndexKey, len(idx.Columns))
	for i, col := range idx.Columns {
		fieldIdx := t.Schema.FieldIndex(col)
		if fieldIdx < 0 {
			return values.IndexKey{}, chronoserr.New(chronoserr.KindSchema, "no such column: "+col)
		}
		field := t.Schema.Fields[fieldIdx]
		v, _ := tuple.Get(fieldIdx)
		keyType := values.KeyTypeInteger
		if field.DataType == values.Text {
			keyType = values.KeyTypeText
		}
		keyTypes[i] = keyType
		key, err := values.FromValue(v, keyType)
		if err != nil {
			return values.IndexKey{}, err
		}
		parts[i] = key
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return values.CompositeKey(parts...), nil
}

// InsertTuple inserts tuple into the heap and every attached index,
// rolling back already-inserted index entries and the heap slot on
// failure (spec §4.10).
func (t *TableInfo) InsertTuple(ctx context.Context, tuple values.Tuple) (values.Rid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, idx := range t.Indexes {
		if !idx.Unique {
			continue
		}
		key, err := t.indexKeyFor(tuple, idx)
		if err != nil {
			return values.Rid{}, err
		}
		existing, err := idx.Tree.Get(key)
		if err != nil {
			return values.Rid{}, err
		}
		if len(existing) > 0 {
			return values.Rid{}, chronoserr.Constraint(t.Name, idx.Name, key.String())
		}
	}

	rid, err := t.Heap.InsertTuple(ctx, tuple, t.Schema)
	if err != nil {
		return values.Rid{}, err
	}

	inserted := make([]*IndexInfo, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		key, err := t.indexKeyFor(tuple, idx)
		if err != nil {
			t.rollbackInsert(ctx, tuple, rid, inserted)
			return values.Rid{}, err
		}
		if err := idx.Tree.Insert(ctx, key, rid); err != nil {
			t.rollbackInsert(ctx, tuple, rid, inserted)
			return values.Rid{}, err
		}
		inserted = append(inserted, idx)
	}
	return rid, nil
}

// rollbackInsert best-effort undoes index entries already inserted for
// this tuple and the heap slot itself, each undo routing through the
// ambient transaction so it is itself WAL-logged as an ordinary page
// update.
func (t *TableInfo) rollbackInsert(ctx context.Context, tuple values.Tuple, rid values.Rid, inserted []*IndexInfo) {
	for _, idx := range inserted {
		key, err := t.indexKeyFor(tuple, idx)
		if err != nil {
			continue
		}
		idx.Tree.Delete(ctx, key, rid)
	}
	t.Heap.DeleteTuple(ctx, rid)
}

// DeleteTuples scans the table, removing every tuple for which match
// reports true, from every index and then the heap, and returns the
// count removed.
func (t *TableInfo) DeleteTuples(ctx context.Context, match func(values.Tuple) (bool, error)) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type hit struct {
		tuple values.Tuple
		rid   values.Rid
	}
	var hits []hit
	scan := heap.NewScan(t.Heap, t.Schema)
	if err := scan.Open(); err != nil {
		return 0, err
	}
	defer scan.Close()
	for {
		tuple, rid, ok, err := scan.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		matched, err := match(tuple)
		if err != nil {
			return 0, err
		}
		if matched {
			hits = append(hits, hit{tuple: tuple, rid: rid})
		}
	}

	for _, h := range hits {
		for _, idx := range t.Indexes {
			key, err := t.indexKeyFor(h.tuple, idx)
			if err != nil {
				return 0, err
			}
			if _, err := idx.Tree.Delete(ctx, key, h.rid); err != nil {
				return 0, err
			}
		}
		if err := t.Heap.DeleteTuple(ctx, h.rid); err != nil {
			return 0, err
		}
	}
	return len(hits), nil
}

// UpdateTuples scans the table, and for every tuple matched by match,
// replaces it with assign's result. If an indexed column's value changed,
// the old index entry is deleted and a new one inserted (respecting
// uniqueness); if the encoded length changed, the heap slot can't be
// reused in place, so the tuple is deleted and reinserted under a new
// RID, and every index entry is updated to point at it. Returns the
// post-image tuples (spec §4.10).
func (t *TableInfo) UpdateTuples(ctx context.Context, match func(values.Tuple) (bool, error), assign func(values.Tuple) (values.Tuple, error)) ([]values.Tuple, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type hit struct {
		old values.Tuple
		rid values.Rid
	}
	var hits []hit
	scan := heap.NewScan(t.Heap, t.Schema)
	if err := scan.Open(); err != nil {
		return nil, err
	}
	defer scan.Close()
	for {
		tuple, rid, ok, err := scan.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		matched, err := match(tuple)
		if err != nil {
			return nil, err
		}
		if matched {
			hits = append(hits, hit{old: tuple, rid: rid})
		}
	}

	var results []values.Tuple
	for _, h := range hits {
		newTuple, err := assign(h.old)
		if err != nil {
			return nil, err
		}

		oldLen, err := values.EncodedLen(h.old, t.Schema)
		if err != nil {
			return nil, err
		}
		newLen, err := values.EncodedLen(newTuple, t.Schema)
		if err != nil {
			return nil, err
		}

		newRid := h.rid
		if newLen != oldLen {
			if err := t.Heap.DeleteTuple(ctx, h.rid); err != nil {
				return nil, err
			}
			newRid, err = t.Heap.InsertTuple(ctx, newTuple, t.Schema)
			if err != nil {
				return nil, err
			}
		} else {
			if err := t.Heap.UpdateInPlace(ctx, h.rid, newTuple, t.Schema); err != nil {
				return nil, err
			}
		}

		for _, idx := range t.Indexes {
			oldKey, err := t.indexKeyFor(h.old, idx)
			if err != nil {
				return nil, err
			}
			newKey, err := t.indexKeyFor(newTuple, idx)
			if err != nil {
				return nil, err
			}
			if values.Compare(oldKey, newKey) == 0 && newRid == h.rid {
				continue
			}
			if _, err := idx.Tree.Delete(ctx, oldKey, h.rid); err != nil {
				return nil, err
			}
			if idx.Unique {
				existing, err := idx.Tree.Get(newKey)
				if err != nil {
					return nil, err
				}
				if len(existing) > 0 {
					return nil, chronoserr.Constraint(t.Name, idx.Name, newKey.String())
				}
			}
			if err := idx.Tree.Insert(ctx, newKey, newRid); err != nil {
				return nil, err
			}
		}
		results = append(results, newTuple)
	}
	return results, nil
}
