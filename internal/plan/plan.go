// Package plan defines the logical plan tree the engine accepts in place
// of a SQL parser's output (parsing is out of CORE scope; see spec.md §1).
// It mirrors crates/query/src/expr.rs and logical_plan.rs: an Expr
// hierarchy for predicates/projections and a small set of logical query
// and statement nodes the physical planner (internal/exec) translates.
package plan

import (
	"fmt"
	"strings"

	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

// Expr is a scalar expression: a column reference, literal, operator
// application, function call, or one of the SQL special forms (CAST, IS
// NULL, BETWEEN, IN).
type Expr interface {
	isExpr()
	String() string
}

// Column references a (possibly table-qualified) input column by name.
type Column struct {
	Table string // "" if unqualified
	Name  string
}

func (Column) isExpr() {}
func (c Column) String() string {
	if c.Table != "" {
		return c.Table + "." + c.Name
	}
	return c.Name
}

// Literal is a constant value.
type Literal struct {
	Value values.Value
}

func (Literal) isExpr() {}
func (l Literal) String() string {
	if l.Value.IsText() {
		return "'" + l.Value.Text() + "'"
	}
	return l.Value.String()
}

// BinaryOp is an infix operator.
type BinaryOp int

const (
	OpPlus BinaryOp = iota
	OpMinus
	OpMultiply
	OpDivide
	OpModulo
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
	OpConcat
	OpLike
	OpNotLike
)

func (op BinaryOp) String() string {
	switch op {
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	case OpMultiply:
		return "*"
	case OpDivide:
		return "/"
	case OpModulo:
		return "%"
	case OpEq:
		return "="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLtEq:
		return "<="
	case OpGt:
		return ">"
	case OpGtEq:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpConcat:
		return "||"
	case OpLike:
		return "LIKE"
	case OpNotLike:
		return "NOT LIKE"
	default:
		return "?"
	}
}

// BinaryExpr applies a binary operator to two sub-expressions.
type BinaryExpr struct {
	Left  Expr
	Op    BinaryOp
	Right Expr
}

func (BinaryExpr) isExpr() {}
func (b BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpUnaryPlus
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "NOT"
	case OpNeg:
		return "-"
	case OpUnaryPlus:
		return "+"
	default:
		return "?"
	}
}

// UnaryExpr applies a unary operator to a sub-expression.
type UnaryExpr struct {
	Op   UnaryOp
	Expr Expr
}

func (UnaryExpr) isExpr() {}
func (u UnaryExpr) String() string { return fmt.Sprintf("(%s %s)", u.Op, u.Expr) }

// FuncCall is a named function applied to a list of argument expressions.
type FuncCall struct {
	Name string
	Args []Expr
}

func (FuncCall) isExpr() {}
func (f FuncCall) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Wildcard is the unqualified `*` in a projection list.
type Wildcard struct{}

func (Wildcard) isExpr()          {}
func (Wildcard) String() string   { return "*" }

// QualifiedWildcard is `table.*`.
type QualifiedWildcard struct {
	Table string
}

func (QualifiedWildcard) isExpr() {}
func (q QualifiedWildcard) String() string { return q.Table + ".*" }

// Cast converts expr's runtime value to target at evaluation time.
type Cast struct {
	Expr   Expr
	Target values.DataType
}

func (Cast) isExpr() {}
func (c Cast) String() string { return fmt.Sprintf("CAST(%s AS %s)", c.Expr, c.Target) }

// IsNullExpr tests expr for (non-)nullity.
type IsNullExpr struct {
	Expr    Expr
	Negated bool
}

func (IsNullExpr) isExpr() {}
func (n IsNullExpr) String() string {
	if n.Negated {
		return fmt.Sprintf("%s IS NOT NULL", n.Expr)
	}
	return fmt.Sprintf("%s IS NULL", n.Expr)
}

// Between tests expr against an inclusive [low, high] range.
type Between struct {
	Expr    Expr
	Low     Expr
	High    Expr
	Negated bool
}

func (Between) isExpr() {}
func (b Between) String() string {
	if b.Negated {
		return fmt.Sprintf("%s NOT BETWEEN %s AND %s", b.Expr, b.Low, b.High)
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.Expr, b.Low, b.High)
}

// In tests expr against a literal list.
type In struct {
	Expr    Expr
	List    []Expr
	Negated bool
}

func (In) isExpr() {}
func (in In) String() string {
	parts := make([]string, len(in.List))
	for i, e := range in.List {
		parts[i] = e.String()
	}
	verb := "IN"
	if in.Negated {
		verb = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", in.Expr, verb, strings.Join(parts, ", "))
}

// Node is a logical plan node: either a query (row-producing, fed through
// the physical planner and Volcano executor) or a statement the engine
// executes directly.
type Node interface {
	isNode()
}

// Scan reads every visible tuple of a table, in heap order.
type Scan struct {
	Table string
}

func (Scan) isNode() {}

// Filter keeps only rows for which Predicate evaluates to Boolean(true).
type Filter struct {
	Input     Node
	Predicate Expr
}

func (Filter) isNode() {}

// Projection evaluates Exprs (or expands a Wildcard/QualifiedWildcard)
// against each input row to produce the output schema.
type Projection struct {
	Input   Node
	Exprs   []Expr
	Aliases []string // "" entries take the expression's printed form
}

func (Projection) isNode() {}

// JoinType distinguishes supported join kinds; the physical planner
// rejects anything but Inner (spec §4.11, "Join must be inner ... or it
// errors out").
type JoinType int

const (
	InnerJoin JoinType = iota
)

// Join pairs rows of Left and Right for which Condition holds.
type Join struct {
	Left      Node
	Right     Node
	Type      JoinType
	Condition Expr
}

func (Join) isNode() {}

// Assignment sets Column to Value's evaluated result in an Update.
type Assignment struct {
	Column string
	Value  Expr
}

// CreateTable is a DDL statement: register a new table with Schema.
type CreateTable struct {
	Table  string
	Schema values.Schema
}

func (CreateTable) isNode() {}

// Insert appends Rows (already-evaluated tuples) to Table.
type Insert struct {
	Table string
	Rows  []values.Tuple
}

func (Insert) isNode() {}

// Delete removes every row of Table matching Filter (nil matches all).
type Delete struct {
	Table  string
	Filter Expr
}

func (Delete) isNode() {}

// Update applies Assignments to every row of Table matching Filter.
type Update struct {
	Table       string
	Assignments []Assignment
	Filter      Expr
}

func (Update) isNode() {}

// Select wraps a logical query tree (Scan/Filter/Projection/Join) as a
// row-returning top-level statement.
type Select struct {
	Query Node
}

func (Select) isNode() {}
