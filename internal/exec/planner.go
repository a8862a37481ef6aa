package exec

import (
	"strings"

	"github.com/reinhardbuyabo/chronosdb/internal/btree"
	"github.com/reinhardbuyabo/chronosdb/internal/catalog"
	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

// PhysicalPlanner translates a logical plan.Node query tree into a
// PhysicalOperator tree, choosing IndexScan over SeqScan where a filter
// predicate is sargable against an index (spec §4.11).
type PhysicalPlanner struct {
	Catalog *catalog.Catalog
}

// NewPhysicalPlanner builds a planner resolving table/index lookups
// against cat.
func NewPhysicalPlanner(cat *catalog.Catalog) *PhysicalPlanner {
	return &PhysicalPlanner{Catalog: cat}
}

// Plan translates query into an executable operator tree and returns the
// schema its rows carry.
func (p *PhysicalPlanner) Plan(query plan.Node) (PhysicalOperator, values.Schema, error) {
	switch n := query.(type) {
	case plan.Scan:
		return p.planScan(n)
	case plan.Filter:
		return p.planFilter(n)
	case plan.Projection:
		return p.planProjection(n)
	case plan.Join:
		return p.planJoin(n)
	default:
		return nil, values.Schema{}, chronoserr.New(chronoserr.KindUnsupportedPlan, "unsupported query node")
	}
}

func (p *PhysicalPlanner) lookupTable(name string) (*catalog.TableInfo, error) {
	table, ok := p.Catalog.Lookup(name)
	if !ok {
		return nil, chronoserr.New(chronoserr.KindTableNotFound, "table not found: "+name)
	}
	return table, nil
}

func (p *PhysicalPlanner) planScan(n plan.Scan) (PhysicalOperator, values.Schema, error) {
	table, err := p.lookupTable(n.Table)
	if err != nil {
		return nil, values.Schema{}, err
	}
	schema := qualifySchema(table.Schema, n.Table)
	return NewSeqScan(table.Heap, table.Schema), schema, nil
}

// planFilter implements spec §4.11's sargable-predicate rule: a Filter
// directly over a Scan, whose predicate is `column = literal` and whose
// column is covered by an index (unique or not), compiles to an IndexScan
// with an equality range instead of Filter(SeqScan).
func (p *PhysicalPlanner) planFilter(n plan.Filter) (PhysicalOperator, values.Schema, error) {
	if scan, ok := n.Input.(plan.Scan); ok {
		if op, schema, ok, err := p.tryIndexScan(scan, n.Predicate); err != nil {
			return nil, values.Schema{}, err
		} else if ok {
			return op, schema, nil
		}
	}

	child, schema, err := p.Plan(n.Input)
	if err != nil {
		return nil, values.Schema{}, err
	}
	return &Filter{Child: child, Predicate: n.Predicate, Schema: schema}, schema, nil
}

func (p *PhysicalPlanner) tryIndexScan(scan plan.Scan, predicate plan.Expr) (PhysicalOperator, values.Schema, bool, error) {
	eq, ok := predicate.(plan.BinaryExpr)
	if !ok || eq.Op != plan.OpEq {
		return nil, values.Schema{}, false, nil
	}
	col, lit, ok := columnLiteralPair(eq.Left, eq.Right)
	if !ok {
		return nil, values.Schema{}, false, nil
	}

	table, err := p.lookupTable(scan.Table)
	if err != nil {
		return nil, values.Schema{}, false, err
	}
	idx := findSingleColumnIndex(table, col.Name)
	if idx == nil {
		return nil, values.Schema{}, false, nil
	}

	keyType, err := table.ColumnKeyType(col.Name)
	if err != nil {
		return nil, values.Schema{}, false, err
	}
	key, err := values.FromValue(lit.Value, keyType)
	if err != nil {
		return nil, values.Schema{}, false, nil
	}

	schema := qualifySchema(table.Schema, scan.Table)
	op := NewIndexScan(table.Heap, table.Schema, idx.Tree, btree.Equality(key))
	return op, schema, true, nil
}

// columnLiteralPair recognizes `column = literal` regardless of operand
// order and reports the column/literal pair if the shape matches.
func columnLiteralPair(left, right plan.Expr) (plan.Column, plan.Literal, bool) {
	if col, ok := left.(plan.Column); ok {
		if lit, ok := right.(plan.Literal); ok {
			return col, lit, true
		}
	}
	if col, ok := right.(plan.Column); ok {
		if lit, ok := left.(plan.Literal); ok {
			return col, lit, true
		}
	}
	return plan.Column{}, plan.Literal{}, false
}

func findSingleColumnIndex(table *catalog.TableInfo, column string) *catalog.IndexInfo {
	for _, idx := range table.Indexes {
		if len(idx.Columns) == 1 && strings.EqualFold(idx.Columns[0], column) {
			return idx
		}
	}
	return nil
}

func (p *PhysicalPlanner) planProjection(n plan.Projection) (PhysicalOperator, values.Schema, error) {
	child, inputSchema, err := p.Plan(n.Input)
	if err != nil {
		return nil, values.Schema{}, err
	}
	outputSchema, err := buildProjectionSchema(n.Exprs, n.Aliases, inputSchema)
	if err != nil {
		return nil, values.Schema{}, err
	}
	return &Projection{Child: child, Exprs: n.Exprs, InputSchema: inputSchema}, outputSchema, nil
}

// buildProjectionSchema names each output column from its alias, the
// wildcard expansion of inputSchema, or the expression's printed form
// (spec §4.11).
func buildProjectionSchema(exprs []plan.Expr, aliases []string, input values.Schema) (values.Schema, error) {
	var fields []values.Field
	for i, e := range exprs {
		alias := ""
		if i < len(aliases) {
			alias = aliases[i]
		}
		switch v := e.(type) {
		case plan.Wildcard:
			fields = append(fields, input.Fields...)
		case plan.QualifiedWildcard:
			matched := false
			for _, f := range input.Fields {
				if tableMatchesQualifier(f, v.Table) {
					matched = true
					fields = append(fields, f)
				}
			}
			if !matched {
				return values.Schema{}, chronoserr.New(chronoserr.KindSchema, "qualified wildcard "+v.Table+" did not match any columns")
			}
		default:
			name := alias
			if name == "" {
				name = e.String()
			}
			fields = append(fields, values.Field{Name: name, DataType: values.Text, Nullable: true, Visible: true})
		}
	}
	return values.Schema{Fields: fields}, nil
}

func (p *PhysicalPlanner) planJoin(n plan.Join) (PhysicalOperator, values.Schema, error) {
	if n.Type != plan.InnerJoin || n.Condition == nil {
		return nil, values.Schema{}, chronoserr.New(chronoserr.KindUnsupportedPlan, "join must be inner with a condition")
	}
	left, leftSchema, err := p.Plan(n.Left)
	if err != nil {
		return nil, values.Schema{}, err
	}
	right, rightSchema, err := p.Plan(n.Right)
	if err != nil {
		return nil, values.Schema{}, err
	}
	combined := values.Schema{Fields: append(append([]values.Field{}, leftSchema.Fields...), rightSchema.Fields...)}
	op := &NestedLoopJoin{
		Left:           left,
		Right:          right,
		Predicate:      n.Condition,
		CombinedSchema: combined,
	}
	return op, combined, nil
}

// qualifySchema tags schema's fields with table as their source, for
// column resolution against table-qualified predicates.
func qualifySchema(schema values.Schema, table string) values.Schema {
	fields := make([]values.Field, len(schema.Fields))
	for i, f := range schema.Fields {
		f.Table = table
		fields[i] = f
	}
	return values.Schema{Fields: fields}
}
