// Package btree implements the on-disk B+tree secondary index: a header
// page recording key shape plus leaf/internal pages holding fixed-width
// keys (spec §4.9), grounded on the original engine's BPlusTree.
//
// Every page's first page.LSNSize bytes are the universal page-LSN;
// every offset below is therefore shifted by that width relative to the
// original layout, matching the convention established in internal/heap.
package btree

import (
	"context"
	"encoding/binary"

	"github.com/reinhardbuyabo/chronosdb/internal/buffer"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/diskmgr"
	"github.com/reinhardbuyabo/chronosdb/internal/page"
	"github.com/reinhardbuyabo/chronosdb/internal/txn"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

const base = page.LSNSize // 8

const (
	pageTypeOffset = base + 0
	keyCountOffset = base + 1
	parentOffset   = base + 8
	specialOffset  = base + 16

	leafHeaderSize     = base + 24
	internalHeaderSize = base + 24
	ridSize            = 12

	headerRootOffset           = base + 8
	headerKeyTypeOffset        = base + 16
	headerKeySizeOffset        = base + 17
	headerUniqueOffset         = base + 19
	headerCompositeCountOffset = base + 20
	headerTextKeySizeOffset    = base + 21
	headerCompositeTypesOffset = base + 23
)

const defaultTextKeySize = values.DefaultTextKeySize

const (
	pageTypeHeader   uint8 = 1
	pageTypeInternal uint8 = 2
	pageTypeLeaf     uint8 = 3
)

const invalidPageID diskmgr.PageID = 0

// Rid is re-exported from values for index callers' convenience.
type Rid = values.Rid

// Entry pairs an index key with the row it locates.
type Entry struct {
	Key values.IndexKey
	Rid Rid
}

// Range bounds a scan by an optional lower and upper key, each with its
// own inclusivity flag. A nil bound is unbounded on that side.
type Range struct {
	Lower       *values.IndexKey
	LowerIncl   bool
	Upper       *values.IndexKey
	UpperIncl   bool
}

// Full returns an unbounded range, visiting every entry in key order.
func Full() Range { return Range{} }

// Equality returns a range matching exactly one key.
func Equality(key values.IndexKey) Range {
	return Range{Lower: &key, LowerIncl: true, Upper: &key, UpperIncl: true}
}

// Tree is a disk-resident B+tree index over a fixed key shape.
type Tree struct {
	pool         *buffer.Pool
	txnMgr       *txn.Manager
	headerPageID diskmgr.PageID
	keyTypes     []values.IndexKeyType
	keySize      int
	textKeySize  int
	unique       bool
}

// Create builds a new single-column index.
func Create(pool *buffer.Pool, txnMgr *txn.Manager, keyType values.IndexKeyType, textKeySize int, unique bool) (*Tree, error) {
	resolved, err := resolveTextKeySize(keyType, textKeySize)
	if err != nil {
		return nil, err
	}
	return createWithTypes(pool, txnMgr, []values.IndexKeyType{keyType}, resolved, unique)
}

// CreateComposite builds a multi-column index.
func CreateComposite(pool *buffer.Pool, txnMgr *txn.Manager, keyTypes []values.IndexKeyType, textKeySize int, unique bool) (*Tree, error) {
	if len(keyTypes) < 2 {
		return nil, chronoserr.New(chronoserr.KindExecution, "composite index must include at least two columns")
	}
	if textKeySize == 0 {
		textKeySize = defaultTextKeySize
	}
	if textKeySize < 2 {
		return nil, chronoserr.New(chronoserr.KindExecution, "text index key size must be at least 2")
	}
	return createWithTypes(pool, txnMgr, keyTypes, textKeySize, unique)
}

func resolveTextKeySize(keyType values.IndexKeyType, textKeySize int) (int, error) {
	switch keyType {
	case values.KeyTypeComposite:
		return 0, chronoserr.New(chronoserr.KindExecution, "composite key type requires component metadata")
	case values.KeyTypeText:
		if textKeySize == 0 {
			textKeySize = defaultTextKeySize
		}
		if textKeySize < 2 {
			return 0, chronoserr.New(chronoserr.KindExecution, "text index key size must be at least 2")
		}
		return textKeySize, nil
	default:
		return defaultTextKeySize, nil
	}
}

func createWithTypes(pool *buffer.Pool, txnMgr *txn.Manager, keyTypes []values.IndexKeyType, textKeySize int, unique bool) (*Tree, error) {
	for _, t := range keyTypes {
		if t == values.KeyTypeComposite {
			return nil, chronoserr.New(chronoserr.KindExecution, "composite key type cannot be nested")
		}
	}
	keySize := values.TotalKeySize(keyTypes, textKeySize)
	headerKeyType := keyTypes[0]
	if len(keyTypes) > 1 {
		headerKeyType = values.KeyTypeComposite
	}
	if len(keyTypes) > 255 {
		return nil, chronoserr.New(chronoserr.KindExecution, "too many composite key columns")
	}

	headerID, err := allocatePage(pool)
	if err != nil {
		return nil, err
	}
	rootID, err := allocatePage(pool)
	if err != nil {
		return nil, err
	}

	hg, err := pool.FetchPage(headerID)
	if err != nil {
		return nil, err
	}
	initHeaderPage(hg.Page, rootID, headerKeyType, keySize, unique, keyTypes, textKeySize)
	if err := hg.Unpin(true); err != nil {
		return nil, err
	}

	rg, err := pool.FetchPage(rootID)
	if err != nil {
		return nil, err
	}
	initLeafPage(rg.Page, invalidPageID, invalidPageID)
	if err := rg.Unpin(true); err != nil {
		return nil, err
	}

	return &Tree{
		pool: pool, txnMgr: txnMgr, headerPageID: headerID,
		keyTypes: keyTypes, keySize: keySize, textKeySize: textKeySize, unique: unique,
	}, nil
}

// Open reopens an existing index rooted at headerPageID, reading its key
// shape back from the header page.
func Open(pool *buffer.Pool, txnMgr *txn.Manager, headerPageID diskmgr.PageID) (*Tree, error) {
	hg, err := pool.FetchPage(headerPageID)
	if err != nil {
		return nil, err
	}
	keyType := values.IndexKeyType(hg.Page.Data[headerKeyTypeOffset])
	keySize := int(binary.LittleEndian.Uint16(hg.Page.Data[headerKeySizeOffset : headerKeySizeOffset+2]))
	unique := hg.Page.Data[headerUniqueOffset] != 0
	compositeCount := int(hg.Page.Data[headerCompositeCountOffset])
	textKeySize := int(binary.LittleEndian.Uint16(hg.Page.Data[headerTextKeySizeOffset : headerTextKeySizeOffset+2]))
	if textKeySize == 0 {
		textKeySize = defaultTextKeySize
	}

	var keyTypes []values.IndexKeyType
	if compositeCount > 0 {
		keyTypes = make([]values.IndexKeyType, compositeCount)
		for i := 0; i < compositeCount; i++ {
			kt := values.IndexKeyType(hg.Page.Data[headerCompositeTypesOffset+i])
			if kt == values.KeyTypeComposite {
				hg.Unpin(false)
				return nil, chronoserr.New(chronoserr.KindCorrupt, "composite key component type is invalid")
			}
			keyTypes[i] = kt
		}
	} else if keyType == values.KeyTypeComposite {
		hg.Unpin(false)
		return nil, chronoserr.New(chronoserr.KindCorrupt, "missing composite key type metadata")
	} else {
		keyTypes = []values.IndexKeyType{keyType}
	}
	if keyType == values.KeyTypeComposite && len(keyTypes) < 2 {
		hg.Unpin(false)
		return nil, chronoserr.New(chronoserr.KindCorrupt, "composite index must have at least two columns")
	}
	if expected := values.TotalKeySize(keyTypes, textKeySize); expected != keySize {
		hg.Unpin(false)
		return nil, chronoserr.New(chronoserr.KindCorrupt, "index key size metadata mismatch")
	}
	if err := hg.Unpin(false); err != nil {
		return nil, err
	}

	return &Tree{
		pool: pool, txnMgr: txnMgr, headerPageID: headerPageID,
		keyTypes: keyTypes, keySize: keySize, textKeySize: textKeySize, unique: unique,
	}, nil
}

// HeaderPageID is the index's catalog-visible root handle.
func (t *Tree) HeaderPageID() diskmgr.PageID { return t.headerPageID }

func (t *Tree) maxLeafEntries() int {
	entrySize := t.keySize + ridSize
	return (diskmgr.PageSize - leafHeaderSize) / entrySize
}

func (t *Tree) maxInternalEntries() int {
	entrySize := t.keySize + 8
	return (diskmgr.PageSize - internalHeaderSize) / entrySize
}

func (t *Tree) rootPageID() (diskmgr.PageID, error) {
	g, err := t.pool.FetchPage(t.headerPageID)
	if err != nil {
		return 0, err
	}
	root := diskmgr.PageID(binary.LittleEndian.Uint64(g.Page.Data[headerRootOffset : headerRootOffset+8]))
	if err := g.Unpin(false); err != nil {
		return 0, err
	}
	return root, nil
}

func (t *Tree) setRootPageID(ctx context.Context, root diskmgr.PageID) error {
	g, err := t.pool.FetchPage(t.headerPageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	binary.LittleEndian.PutUint64(g.Page.Data[headerRootOffset:headerRootOffset+8], uint64(root))
	return t.logAndUnpin(ctx, g, t.headerPageID, before)
}

// findLeafPage descends from the root to the leaf that would hold key.
// useUpperBound picks the rightmost matching child on ties, used by
// Insert so a new key lands after any existing equal keys.
func (t *Tree) findLeafPage(key *values.IndexKey, useUpperBound bool) (diskmgr.PageID, error) {
	pageID, err := t.rootPageID()
	if err != nil {
		return 0, err
	}
	for {
		g, err := t.pool.FetchPage(pageID)
		if err != nil {
			return 0, err
		}
		typ := g.Page.Data[pageTypeOffset]
		if typ == pageTypeLeaf {
			if err := g.Unpin(false); err != nil {
				return 0, err
			}
			return pageID, nil
		}
		if typ != pageTypeInternal {
			g.Unpin(false)
			return 0, chronoserr.New(chronoserr.KindCorrupt, "unexpected header page while searching")
		}
		internal := t.decodeInternalPage(g.Page)
		if err := g.Unpin(false); err != nil {
			return 0, err
		}
		childIndex := 0
		if key != nil {
			childIndex = pickChildIndex(internal.keys, *key, useUpperBound)
		}
		pageID = internal.children[childIndex]
	}
}

type leafPage struct {
	parent diskmgr.PageID
	next   diskmgr.PageID
}

type internalPage struct {
	parent   diskmgr.PageID
	keys     []values.IndexKey
	children []diskmgr.PageID
}

func (t *Tree) readLeafEntries(pageID diskmgr.PageID) (leafPage, []Entry, error) {
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return leafPage{}, nil, err
	}
	leaf := leafPage{parent: readParentPageID(g.Page), next: readSpecialPageID(g.Page)}
	entries, err := t.decodeLeafEntries(g.Page)
	if err != nil {
		g.Unpin(false)
		return leafPage{}, nil, err
	}
	if err := g.Unpin(false); err != nil {
		return leafPage{}, nil, err
	}
	return leaf, entries, nil
}

func (t *Tree) writeLeafEntries(ctx context.Context, pageID diskmgr.PageID, leaf leafPage, entries []Entry) error {
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	if err := t.encodeLeafPage(g.Page, leaf, entries); err != nil {
		g.Unpin(false)
		return err
	}
	return t.logAndUnpin(ctx, g, pageID, before)
}

func (t *Tree) decodeInternalPage(p *page.Page) internalPage {
	keyCount := int(binary.LittleEndian.Uint16(p.Data[keyCountOffset : keyCountOffset+2]))
	parent := readParentPageID(p)
	leftChild := readSpecialPageID(p)
	keys := make([]values.IndexKey, 0, keyCount)
	children := make([]diskmgr.PageID, 0, keyCount+1)
	children = append(children, leftChild)
	for i := 0; i < keyCount; i++ {
		offset := internalHeaderSize + i*(t.keySize+8)
		key, _ := values.DecodeKey(p.Data[offset:offset+t.keySize], t.keyTypes, t.textKeySize)
		child := diskmgr.PageID(binary.LittleEndian.Uint64(p.Data[offset+t.keySize : offset+t.keySize+8]))
		keys = append(keys, key)
		children = append(children, child)
	}
	return internalPage{parent: parent, keys: keys, children: children}
}

func (t *Tree) readInternalPage(pageID diskmgr.PageID) (internalPage, error) {
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return internalPage{}, err
	}
	internal := t.decodeInternalPage(g.Page)
	if err := g.Unpin(false); err != nil {
		return internalPage{}, err
	}
	return internal, nil
}

func (t *Tree) writeInternalPage(ctx context.Context, pageID diskmgr.PageID, internal internalPage) error {
	if len(internal.children) != len(internal.keys)+1 {
		return chronoserr.New(chronoserr.KindExecution, "internal page children count mismatch")
	}
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	p := g.Page
	p.Data[pageTypeOffset] = pageTypeInternal
	binary.LittleEndian.PutUint16(p.Data[keyCountOffset:keyCountOffset+2], uint16(len(internal.keys)))
	writeParentPageID(p, internal.parent)
	writeSpecialPageID(p, internal.children[0])
	for i, key := range internal.keys {
		offset := internalHeaderSize + i*(t.keySize+8)
		enc, err := key.Encode(t.keyTypes, t.textKeySize)
		if err != nil {
			g.Unpin(false)
			return err
		}
		copy(p.Data[offset:offset+t.keySize], enc)
		binary.LittleEndian.PutUint64(p.Data[offset+t.keySize:offset+t.keySize+8], uint64(internal.children[i+1]))
	}
	return t.logAndUnpin(ctx, g, pageID, before)
}

// readParentPointer reads just the parent-pointer field, valid for
// leaf and internal pages alike since it sits at the same offset in
// both layouts.
func (t *Tree) readParentPointer(pageID diskmgr.PageID) (diskmgr.PageID, error) {
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return 0, err
	}
	parent := readParentPageID(g.Page)
	if err := g.Unpin(false); err != nil {
		return 0, err
	}
	return parent, nil
}

func (t *Tree) setParent(ctx context.Context, pageID diskmgr.PageID, parent diskmgr.PageID) error {
	g, err := t.pool.FetchPage(pageID)
	if err != nil {
		return err
	}
	before := append([]byte(nil), g.Page.Data[:]...)
	writeParentPageID(g.Page, parent)
	return t.logAndUnpin(ctx, g, pageID, before)
}

func (t *Tree) insertIntoLeaf(ctx context.Context, pageID diskmgr.PageID, key values.IndexKey, rid Rid) error {
	leaf, entries, err := t.readLeafEntries(pageID)
	if err != nil {
		return err
	}
	insertPos := len(entries)
	for i, e := range entries {
		if values.Compare(e.Key, key) > 0 {
			insertPos = i
			break
		}
	}
	entries = append(entries, Entry{})
	copy(entries[insertPos+1:], entries[insertPos:])
	entries[insertPos] = Entry{Key: key, Rid: rid}

	if len(entries) <= t.maxLeafEntries() {
		return t.writeLeafEntries(ctx, pageID, leaf, entries)
	}

	splitIndex := len(entries) / 2
	rightEntries := append([]Entry(nil), entries[splitIndex:]...)
	leftEntries := entries[:splitIndex]
	separatorKey := rightEntries[0].Key

	newPageID, err := allocatePage(t.pool)
	if err != nil {
		return err
	}
	newLeaf := leafPage{parent: leaf.parent, next: leaf.next}
	leaf.next = newPageID
	if err := t.writeLeafEntries(ctx, pageID, leaf, leftEntries); err != nil {
		return err
	}
	if err := t.writeLeafEntries(ctx, newPageID, newLeaf, rightEntries); err != nil {
		return err
	}
	return t.insertIntoParent(ctx, pageID, separatorKey, newPageID)
}

func (t *Tree) insertIntoParent(ctx context.Context, leftPageID diskmgr.PageID, separatorKey values.IndexKey, rightPageID diskmgr.PageID) error {
	parentID, err := t.readParentPointer(leftPageID)
	if err != nil {
		return err
	}
	if parentID == invalidPageID {
		newRootID, err := allocatePage(t.pool)
		if err != nil {
			return err
		}
		root := internalPage{parent: invalidPageID, keys: []values.IndexKey{separatorKey}, children: []diskmgr.PageID{leftPageID, rightPageID}}
		if err := t.writeInternalPage(ctx, newRootID, root); err != nil {
			return err
		}
		if err := t.setRootPageID(ctx, newRootID); err != nil {
			return err
		}
		if err := t.setParent(ctx, leftPageID, newRootID); err != nil {
			return err
		}
		return t.setParent(ctx, rightPageID, newRootID)
	}

	parent, err := t.readInternalPage(parentID)
	if err != nil {
		return err
	}
	childIndex := -1
	for i, c := range parent.children {
		if c == leftPageID {
			childIndex = i
			break
		}
	}
	if childIndex < 0 {
		return chronoserr.New(chronoserr.KindCorrupt, "missing parent child pointer")
	}
	keys := append([]values.IndexKey(nil), parent.keys[:childIndex]...)
	keys = append(keys, separatorKey)
	keys = append(keys, parent.keys[childIndex:]...)
	children := append([]diskmgr.PageID(nil), parent.children[:childIndex+1]...)
	children = append(children, rightPageID)
	children = append(children, parent.children[childIndex+1:]...)
	parent.keys, parent.children = keys, children

	if len(parent.keys) <= t.maxInternalEntries() {
		if err := t.writeInternalPage(ctx, parentID, parent); err != nil {
			return err
		}
		return t.setParent(ctx, rightPageID, parentID)
	}
	return t.splitInternal(ctx, parentID, parent)
}

func (t *Tree) splitInternal(ctx context.Context, pageID diskmgr.PageID, p internalPage) error {
	splitIndex := len(p.keys) / 2
	separatorKey := p.keys[splitIndex]
	rightKeys := append([]values.IndexKey(nil), p.keys[splitIndex+1:]...)
	rightChildren := append([]diskmgr.PageID(nil), p.children[splitIndex+1:]...)
	p.keys = p.keys[:splitIndex]
	p.children = p.children[:splitIndex+1]

	rightPageID, err := allocatePage(t.pool)
	if err != nil {
		return err
	}
	right := internalPage{parent: p.parent, keys: rightKeys, children: rightChildren}
	if err := t.writeInternalPage(ctx, pageID, p); err != nil {
		return err
	}
	if err := t.writeInternalPage(ctx, rightPageID, right); err != nil {
		return err
	}
	for _, childID := range right.children {
		if err := t.setParent(ctx, childID, rightPageID); err != nil {
			return err
		}
	}
	return t.insertIntoParent(ctx, pageID, separatorKey, rightPageID)
}

func (t *Tree) scanEntries(rng Range) ([]Entry, error) {
	var results []Entry
	var pageID diskmgr.PageID
	var err error
	if rng.Lower != nil {
		pageID, err = t.findLeafPage(rng.Lower, false)
	} else {
		pageID, err = t.findLeafPage(nil, false)
	}
	if err != nil {
		return nil, err
	}

	for {
		leaf, entries, err := t.readLeafEntries(pageID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !matchesLowerBound(e.Key, rng) {
				continue
			}
			if matchesUpperStop(e.Key, rng) {
				return results, nil
			}
			results = append(results, e)
		}
		if leaf.next == invalidPageID {
			return results, nil
		}
		pageID = leaf.next
	}
}

// Insert adds key->rid, enforcing uniqueness if the index was created
// unique. Splits propagate upward; deletion/rebalancing is not
// implemented (teaching-grade simplification).
func (t *Tree) Insert(ctx context.Context, key values.IndexKey, rid Rid) error {
	if t.unique {
		existing, err := t.Get(key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return chronoserr.New(chronoserr.KindConstraintViolation, "duplicate index key")
		}
	}
	leafPageID, err := t.findLeafPage(&key, true)
	if err != nil {
		return err
	}
	return t.insertIntoLeaf(ctx, leafPageID, key, rid)
}

// Delete removes the (key, rid) pair from its leaf, scanning forward
// across leaf siblings if key isn't found on the first candidate page.
func (t *Tree) Delete(ctx context.Context, key values.IndexKey, rid Rid) (bool, error) {
	pageID, err := t.findLeafPage(&key, false)
	if err != nil {
		return false, err
	}
	for {
		leaf, entries, err := t.readLeafEntries(pageID)
		if err != nil {
			return false, err
		}
		position := -1
		for i, e := range entries {
			if values.Compare(e.Key, key) == 0 && e.Rid == rid {
				position = i
				break
			}
		}
		if position >= 0 {
			entries = append(entries[:position], entries[position+1:]...)
			if err := t.writeLeafEntries(ctx, pageID, leaf, entries); err != nil {
				return false, err
			}
			return true, nil
		}
		shouldAdvance := true
		if len(entries) > 0 {
			shouldAdvance = values.Compare(entries[len(entries)-1].Key, key) <= 0
		}
		if shouldAdvance && leaf.next != invalidPageID {
			pageID = leaf.next
			continue
		}
		return false, nil
	}
}

// Get returns every rid stored under key.
func (t *Tree) Get(key values.IndexKey) ([]Rid, error) {
	entries, err := t.scanEntries(Equality(key))
	if err != nil {
		return nil, err
	}
	rids := make([]Rid, len(entries))
	for i, e := range entries {
		rids[i] = e.Rid
	}
	return rids, nil
}

// RangeScan returns every rid whose key falls within rng, in key order.
func (t *Tree) RangeScan(rng Range) ([]Rid, error) {
	entries, err := t.scanEntries(rng)
	if err != nil {
		return nil, err
	}
	rids := make([]Rid, len(entries))
	for i, e := range entries {
		rids[i] = e.Rid
	}
	return rids, nil
}

// IterAll returns every (key, rid) entry in key order.
func (t *Tree) IterAll() ([]Entry, error) {
	return t.scanEntries(Full())
}

// logAndUnpin logs a whole-page physiological PageUpdate record (before
// is the page's bytes as fetched, prior to the caller's in-place
// mutation; after is the current, already-mutated bytes) so undo/redo
// can restore either image, then unpins dirty.
func (t *Tree) logAndUnpin(ctx context.Context, g *buffer.Guard, pageID diskmgr.PageID, before []byte) error {
	if h, ok := txn.FromContext(ctx); ok && t.txnMgr != nil {
		after := append([]byte(nil), g.Page.Data[:]...)
		lsn, err := t.txnMgr.LogPageUpdate(h, uint64(pageID), 0, before, after)
		if err != nil {
			g.Unpin(false)
			return err
		}
		g.Page.SetLSN(lsn)
	}
	return g.Unpin(true)
}

func allocatePage(pool *buffer.Pool) (diskmgr.PageID, error) {
	g, err := pool.NewPage()
	if err != nil {
		return 0, err
	}
	id := g.Page.ID
	if err := g.Unpin(false); err != nil {
		return 0, err
	}
	return id, nil
}

func initHeaderPage(p *page.Page, rootPageID diskmgr.PageID, keyType values.IndexKeyType, keySize int, unique bool, keyTypes []values.IndexKeyType, textKeySize int) {
	p.Data[pageTypeOffset] = pageTypeHeader
	binary.LittleEndian.PutUint64(p.Data[headerRootOffset:headerRootOffset+8], uint64(rootPageID))
	p.Data[headerKeyTypeOffset] = byte(keyType)
	binary.LittleEndian.PutUint16(p.Data[headerKeySizeOffset:headerKeySizeOffset+2], uint16(keySize))
	if unique {
		p.Data[headerUniqueOffset] = 1
	} else {
		p.Data[headerUniqueOffset] = 0
	}
	p.Data[headerCompositeCountOffset] = byte(len(keyTypes))
	binary.LittleEndian.PutUint16(p.Data[headerTextKeySizeOffset:headerTextKeySizeOffset+2], uint16(textKeySize))
	for i, kt := range keyTypes {
		p.Data[headerCompositeTypesOffset+i] = byte(kt)
	}
}

func initLeafPage(p *page.Page, parent, next diskmgr.PageID) {
	p.Data[pageTypeOffset] = pageTypeLeaf
	binary.LittleEndian.PutUint16(p.Data[keyCountOffset:keyCountOffset+2], 0)
	writeParentPageID(p, parent)
	writeSpecialPageID(p, next)
}

func readParentPageID(p *page.Page) diskmgr.PageID {
	return diskmgr.PageID(binary.LittleEndian.Uint64(p.Data[parentOffset : parentOffset+8]))
}

func writeParentPageID(p *page.Page, parent diskmgr.PageID) {
	binary.LittleEndian.PutUint64(p.Data[parentOffset:parentOffset+8], uint64(parent))
}

func readSpecialPageID(p *page.Page) diskmgr.PageID {
	return diskmgr.PageID(binary.LittleEndian.Uint64(p.Data[specialOffset : specialOffset+8]))
}

func writeSpecialPageID(p *page.Page, id diskmgr.PageID) {
	binary.LittleEndian.PutUint64(p.Data[specialOffset:specialOffset+8], uint64(id))
}

func (t *Tree) decodeLeafEntries(p *page.Page) ([]Entry, error) {
	keyCount := int(binary.LittleEndian.Uint16(p.Data[keyCountOffset : keyCountOffset+2]))
	entries := make([]Entry, 0, keyCount)
	for i := 0; i < keyCount; i++ {
		offset := leafHeaderSize + i*(t.keySize+ridSize)
		key, err := values.DecodeKey(p.Data[offset:offset+t.keySize], t.keyTypes, t.textKeySize)
		if err != nil {
			return nil, err
		}
		rid := readRid(p, offset+t.keySize)
		entries = append(entries, Entry{Key: key, Rid: rid})
	}
	return entries, nil
}

func (t *Tree) encodeLeafPage(p *page.Page, leaf leafPage, entries []Entry) error {
	p.Data[pageTypeOffset] = pageTypeLeaf
	binary.LittleEndian.PutUint16(p.Data[keyCountOffset:keyCountOffset+2], uint16(len(entries)))
	writeParentPageID(p, leaf.parent)
	writeSpecialPageID(p, leaf.next)
	for i, e := range entries {
		offset := leafHeaderSize + i*(t.keySize+ridSize)
		enc, err := e.Key.Encode(t.keyTypes, t.textKeySize)
		if err != nil {
			return err
		}
		copy(p.Data[offset:offset+t.keySize], enc)
		writeRid(p, offset+t.keySize, e.Rid)
	}
	return nil
}

func readRid(p *page.Page, offset int) Rid {
	pageID := binary.LittleEndian.Uint64(p.Data[offset : offset+8])
	slotID := binary.LittleEndian.Uint32(p.Data[offset+8 : offset+12])
	return Rid{PageID: pageID, SlotID: slotID}
}

func writeRid(p *page.Page, offset int, rid Rid) {
	binary.LittleEndian.PutUint64(p.Data[offset:offset+8], rid.PageID)
	binary.LittleEndian.PutUint32(p.Data[offset+8:offset+12], rid.SlotID)
}

// pickChildIndex returns which child pointer to descend into for key,
// using the upper-bound (rightmost) tie rule when useUpper is true.
func pickChildIndex(keys []values.IndexKey, key values.IndexKey, useUpper bool) int {
	index := 0
	for _, existing := range keys {
		cmp := values.Compare(existing, key)
		if cmp < 0 {
			index++
			continue
		}
		if useUpper && cmp == 0 {
			index++
			continue
		}
		break
	}
	return index
}

func matchesLowerBound(key values.IndexKey, rng Range) bool {
	if rng.Lower == nil {
		return true
	}
	switch cmp := values.Compare(key, *rng.Lower); {
	case cmp < 0:
		return false
	case cmp == 0:
		return rng.LowerIncl
	default:
		return true
	}
}

func matchesUpperStop(key values.IndexKey, rng Range) bool {
	if rng.Upper == nil {
		return false
	}
	switch cmp := values.Compare(key, *rng.Upper); {
	case cmp > 0:
		return true
	case cmp == 0:
		return !rng.UpperIncl
	default:
		return false
	}
}
