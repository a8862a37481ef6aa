package exec

import (
	"testing"

	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

func peopleSchema() values.Schema {
	return values.Schema{Fields: []values.Field{
		{Name: "id", DataType: values.Integer, Visible: true},
		{Name: "name", DataType: values.Text, Visible: true},
		{Name: "age", DataType: values.Integer, Nullable: true, Visible: true},
	}}
}

func TestEvaluateExprArithmeticAndComparison(t *testing.T) {
	schema := peopleSchema()
	tuple := values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice"), values.IntVal(30)})

	expr := plan.BinaryExpr{Left: plan.Column{Name: "age"}, Op: plan.OpGtEq, Right: plan.Literal{Value: values.IntVal(18)}}
	got, err := EvaluateExpr(expr, tuple, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsBoolean() || !got.Bool() {
		t.Fatalf("expected true, got %v", got)
	}
}

func TestEvaluatePredicateNullDropsRow(t *testing.T) {
	schema := peopleSchema()
	tuple := values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice"), values.Null()})

	expr := plan.BinaryExpr{Left: plan.Column{Name: "age"}, Op: plan.OpGtEq, Right: plan.Literal{Value: values.IntVal(18)}}
	matched, err := EvaluatePredicate(expr, tuple, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatalf("expected null comparison to not match")
	}
}

func TestTriValuedAndOr(t *testing.T) {
	schema := peopleSchema()
	tuple := values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice"), values.Null()})

	// (age >= 18) AND false -> false, even though age is unknown.
	expr := plan.BinaryExpr{
		Left:  plan.BinaryExpr{Left: plan.Column{Name: "age"}, Op: plan.OpGtEq, Right: plan.Literal{Value: values.IntVal(18)}},
		Op:    plan.OpAnd,
		Right: plan.Literal{Value: values.BoolVal(false)},
	}
	got, err := EvaluateExpr(expr, tuple, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsBoolean() || got.Bool() {
		t.Fatalf("expected false, got %v", got)
	}

	// (age >= 18) OR true -> true.
	expr2 := plan.BinaryExpr{
		Left:  plan.BinaryExpr{Left: plan.Column{Name: "age"}, Op: plan.OpGtEq, Right: plan.Literal{Value: values.IntVal(18)}},
		Op:    plan.OpOr,
		Right: plan.Literal{Value: values.BoolVal(true)},
	}
	got2, err := EvaluateExpr(expr2, tuple, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got2.IsBoolean() || !got2.Bool() {
		t.Fatalf("expected true, got %v", got2)
	}
}

func TestLikeMatching(t *testing.T) {
	schema := peopleSchema()
	tuple := values.NewTuple([]values.Value{values.IntVal(1), values.TextVal("alice"), values.IntVal(30)})

	expr := plan.BinaryExpr{Left: plan.Column{Name: "name"}, Op: plan.OpLike, Right: plan.Literal{Value: values.TextVal("al%")}}
	got, err := EvaluateExpr(expr, tuple, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsBoolean() || !got.Bool() {
		t.Fatalf("expected match, got %v", got)
	}
}

func TestCastTextToInteger(t *testing.T) {
	v, err := applyCast(values.TextVal("42"), values.Integer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsInteger() || v.Int() != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestResolveColumnIndexAmbiguous(t *testing.T) {
	schema := values.Schema{Fields: []values.Field{
		{Name: "id", Table: "a", DataType: values.Integer, Visible: true},
		{Name: "id", Table: "b", DataType: values.Integer, Visible: true},
	}}
	if _, err := resolveColumnIndex(schema, "", "id"); err == nil {
		t.Fatalf("expected ambiguous column error")
	}
	idx, err := resolveColumnIndex(schema, "a", "id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
}

func TestDivisionByZero(t *testing.T) {
	expr := plan.BinaryExpr{Left: plan.Literal{Value: values.IntVal(1)}, Op: plan.OpDivide, Right: plan.Literal{Value: values.IntVal(0)}}
	if _, err := EvaluateExpr(expr, values.Tuple{}, values.Schema{}); err == nil {
		t.Fatalf("expected division by zero error")
	}
}
