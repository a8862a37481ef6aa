// Package exec implements the Volcano-style physical operator pipeline
// (spec §4.11): SeqScan, IndexScan, Filter, Projection, NestedLoopJoin
// and Update, tri-valued expression evaluation, and the physical planner
// that translates a plan.Node tree into an operator tree.
//
// Grounded on crates/query/src/execution/operator.rs (expression
// evaluation), seq_scan.rs/filter.rs/projection.rs/nested_loop_join.rs/
// update.rs/index_scan.rs (the operators) and planner.rs/executor.rs
// (translation and the open/next*/close driver).
package exec

import (
	"fmt"
	"strings"

	"github.com/reinhardbuyabo/chronosdb/internal/chronoserr"
	"github.com/reinhardbuyabo/chronosdb/internal/plan"
	"github.com/reinhardbuyabo/chronosdb/internal/values"
)

// EvaluatePredicate evaluates expr and requires a Boolean or Null result;
// Null is treated as false, matching Filter's "Null predicate -> drop"
// rule (spec §4.11), and any other non-boolean result is an Expression
// error.
func EvaluatePredicate(expr plan.Expr, tuple values.Tuple, schema values.Schema) (bool, error) {
	v, err := EvaluateExpr(expr, tuple, schema)
	if err != nil {
		return false, err
	}
	if v.IsNull() {
		return false, nil
	}
	if !v.IsBoolean() {
		return false, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("predicate returned non-boolean value: %s", v))
	}
	return v.Bool(), nil
}

// EvaluateExpr evaluates expr against tuple under schema, with tri-valued
// (Kleene) logic: Null is infectious through arithmetic and comparisons.
func EvaluateExpr(expr plan.Expr, tuple values.Tuple, schema values.Schema) (values.Value, error) {
	switch e := expr.(type) {
	case plan.Column:
		idx, err := resolveColumnIndex(schema, e.Table, e.Name)
		if err != nil {
			return values.Value{}, err
		}
		v, ok := tuple.Get(idx)
		if !ok {
			return values.Value{}, chronoserr.New(chronoserr.KindSchema, fmt.Sprintf("column index %d out of range", idx))
		}
		return v, nil
	case plan.Literal:
		return e.Value, nil
	case plan.BinaryExpr:
		left, err := EvaluateExpr(e.Left, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		right, err := EvaluateExpr(e.Right, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		return applyBinaryOperator(e.Op, left, right)
	case plan.UnaryExpr:
		v, err := EvaluateExpr(e.Expr, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		return applyUnaryOperator(e.Op, v)
	case plan.FuncCall:
		return values.Value{}, chronoserr.New(chronoserr.KindUnsupportedExpression, fmt.Sprintf("function %s is not supported", e.Name))
	case plan.Wildcard:
		return values.Value{}, chronoserr.New(chronoserr.KindUnsupportedExpression, "wildcard expression must be expanded in projection")
	case plan.QualifiedWildcard:
		return values.Value{}, chronoserr.New(chronoserr.KindUnsupportedExpression, fmt.Sprintf("qualified wildcard %s must be expanded in projection", e.Table))
	case plan.Cast:
		v, err := EvaluateExpr(e.Expr, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		return applyCast(v, e.Target)
	case plan.IsNullExpr:
		v, err := EvaluateExpr(e.Expr, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		isNull := v.IsNull()
		if e.Negated {
			isNull = !isNull
		}
		return values.BoolVal(isNull), nil
	case plan.Between:
		v, err := EvaluateExpr(e.Expr, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		low, err := EvaluateExpr(e.Low, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		high, err := EvaluateExpr(e.High, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		lowerOK, err := applyComparison(plan.OpGtEq, v, low)
		if err != nil {
			return values.Value{}, err
		}
		upperOK, err := applyComparison(plan.OpLtEq, v, high)
		if err != nil {
			return values.Value{}, err
		}
		combined, err := applyBinaryOperator(plan.OpAnd, lowerOK, upperOK)
		if err != nil {
			return values.Value{}, err
		}
		if combined.IsNull() {
			return combined, nil
		}
		if !combined.IsBoolean() {
			return values.Value{}, chronoserr.New(chronoserr.KindExpression, "between expression produced non-boolean value")
		}
		result := combined.Bool()
		if e.Negated {
			result = !result
		}
		return values.BoolVal(result), nil
	case plan.In:
		v, err := EvaluateExpr(e.Expr, tuple, schema)
		if err != nil {
			return values.Value{}, err
		}
		sawNull := false
		for _, item := range e.List {
			itemVal, err := EvaluateExpr(item, tuple, schema)
			if err != nil {
				return values.Value{}, err
			}
			cmp, err := applyComparison(plan.OpEq, v, itemVal)
			if err != nil {
				return values.Value{}, err
			}
			if cmp.IsBoolean() && cmp.Bool() {
				return values.BoolVal(!e.Negated), nil
			}
			if cmp.IsNull() {
				sawNull = true
			}
		}
		if sawNull {
			return values.Null(), nil
		}
		return values.BoolVal(e.Negated), nil
	default:
		return values.Value{}, chronoserr.New(chronoserr.KindUnsupportedExpression, fmt.Sprintf("unsupported expression type %T", expr))
	}
}

// resolveColumnIndex finds the single field matching name (optionally
// table-qualified), erroring on zero or ambiguous matches.
func resolveColumnIndex(schema values.Schema, table, name string) (int, error) {
	var qualified string
	if table != "" {
		qualified = table + "." + name
	}
	var matches []int
	for i, f := range schema.Fields {
		if !f.Visible {
			continue
		}
		baseMatches := strings.EqualFold(f.Name, name) || strings.EqualFold(lastSegment(f.Name), name)
		qualifiedMatches := qualified != "" && strings.EqualFold(f.Name, qualified)
		tableMatches := table == "" || strings.EqualFold(f.Table, table)
		if (baseMatches || qualifiedMatches) && tableMatches {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		ref := name
		if qualified != "" {
			ref = qualified
		}
		return 0, chronoserr.New(chronoserr.KindSchema, fmt.Sprintf("column %s not found", ref))
	case 1:
		return matches[0], nil
	default:
		ref := name
		if qualified != "" {
			ref = qualified
		}
		return 0, chronoserr.New(chronoserr.KindSchema, fmt.Sprintf("column reference %s is ambiguous", ref))
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func applyBinaryOperator(op plan.BinaryOp, left, right values.Value) (values.Value, error) {
	switch op {
	case plan.OpPlus, plan.OpMinus, plan.OpMultiply, plan.OpDivide, plan.OpModulo:
		return applyNumericOperator(op, left, right)
	case plan.OpEq, plan.OpNotEq, plan.OpLt, plan.OpLtEq, plan.OpGt, plan.OpGtEq:
		return applyComparison(op, left, right)
	case plan.OpAnd, plan.OpOr:
		return applyBooleanLogic(op, left, right)
	case plan.OpConcat:
		return applyConcat(left, right)
	case plan.OpLike, plan.OpNotLike:
		return applyLike(op, left, right)
	default:
		return values.Value{}, chronoserr.New(chronoserr.KindExpression, "invalid binary operator")
	}
}

func applyUnaryOperator(op plan.UnaryOp, v values.Value) (values.Value, error) {
	switch op {
	case plan.OpNot:
		b, err := booleanFromValue(v)
		if err != nil {
			return values.Value{}, err
		}
		if b == nil {
			return values.Null(), nil
		}
		return values.BoolVal(!*b), nil
	case plan.OpNeg:
		n, isInt, ok, err := numericFromValue(v)
		if err != nil {
			return values.Value{}, err
		}
		if !ok {
			return values.Null(), nil
		}
		if isInt {
			return values.IntVal(-int64(n)), nil
		}
		return values.FloatVal(-n), nil
	case plan.OpUnaryPlus:
		n, isInt, ok, err := numericFromValue(v)
		if err != nil {
			return values.Value{}, err
		}
		if !ok {
			return values.Null(), nil
		}
		if isInt {
			return values.IntVal(int64(n)), nil
		}
		return values.FloatVal(n), nil
	default:
		return values.Value{}, chronoserr.New(chronoserr.KindExpression, "invalid unary operator")
	}
}

func applyNumericOperator(op plan.BinaryOp, left, right values.Value) (values.Value, error) {
	l, r, bothInt, ok, err := numericPair(left, right)
	if err != nil {
		return values.Value{}, err
	}
	if !ok {
		return values.Null(), nil
	}
	switch op {
	case plan.OpPlus:
		return numericResult(l+r, bothInt), nil
	case plan.OpMinus:
		return numericResult(l-r, bothInt), nil
	case plan.OpMultiply:
		return numericResult(l*r, bothInt), nil
	case plan.OpDivide:
		if r == 0 {
			return values.Value{}, chronoserr.New(chronoserr.KindExpression, "division by zero")
		}
		return values.FloatVal(l / r), nil
	case plan.OpModulo:
		if !bothInt {
			return values.Value{}, chronoserr.New(chronoserr.KindExpression, "modulo requires integer operands")
		}
		ri := int64(r)
		if ri == 0 {
			return values.Value{}, chronoserr.New(chronoserr.KindExpression, "modulo by zero")
		}
		return values.IntVal(int64(l) % ri), nil
	default:
		return values.Value{}, chronoserr.New(chronoserr.KindExpression, "invalid numeric operator")
	}
}

func numericResult(v float64, asInt bool) values.Value {
	if asInt {
		return values.IntVal(int64(v))
	}
	return values.FloatVal(v)
}

func applyComparison(op plan.BinaryOp, left, right values.Value) (values.Value, error) {
	if left.IsNull() || right.IsNull() {
		return values.Null(), nil
	}
	ord, ok, err := compareValues(left, right)
	if err != nil {
		return values.Value{}, err
	}
	if !ok {
		return values.Null(), nil
	}
	var result bool
	switch op {
	case plan.OpEq:
		result = ord == 0
	case plan.OpNotEq:
		result = ord != 0
	case plan.OpLt:
		result = ord < 0
	case plan.OpLtEq:
		result = ord <= 0
	case plan.OpGt:
		result = ord > 0
	case plan.OpGtEq:
		result = ord >= 0
	default:
		return values.Value{}, chronoserr.New(chronoserr.KindExpression, "invalid comparison operator")
	}
	return values.BoolVal(result), nil
}

func applyBooleanLogic(op plan.BinaryOp, left, right values.Value) (values.Value, error) {
	l, err := booleanFromValue(left)
	if err != nil {
		return values.Value{}, err
	}
	r, err := booleanFromValue(right)
	if err != nil {
		return values.Value{}, err
	}
	var result *bool
	switch op {
	case plan.OpAnd:
		result = triAnd(l, r)
	case plan.OpOr:
		result = triOr(l, r)
	}
	if result == nil {
		return values.Null(), nil
	}
	return values.BoolVal(*result), nil
}

func triAnd(l, r *bool) *bool {
	f := false
	t := true
	if (l != nil && !*l) || (r != nil && !*r) {
		return &f
	}
	if l != nil && *l && r != nil && *r {
		return &t
	}
	return nil
}

func triOr(l, r *bool) *bool {
	f := false
	t := true
	if (l != nil && *l) || (r != nil && *r) {
		return &t
	}
	if l != nil && !*l && r != nil && !*r {
		return &f
	}
	return nil
}

func applyConcat(left, right values.Value) (values.Value, error) {
	if left.IsNull() || right.IsNull() {
		return values.Null(), nil
	}
	l, err := valueToString(left)
	if err != nil {
		return values.Value{}, err
	}
	r, err := valueToString(right)
	if err != nil {
		return values.Value{}, err
	}
	return values.TextVal(l + r), nil
}

func applyLike(op plan.BinaryOp, left, right values.Value) (values.Value, error) {
	if left.IsNull() || right.IsNull() {
		return values.Null(), nil
	}
	l, err := valueToString(left)
	if err != nil {
		return values.Value{}, err
	}
	r, err := valueToString(right)
	if err != nil {
		return values.Value{}, err
	}
	matches := likeMatch(l, r)
	if op == plan.OpNotLike {
		matches = !matches
	}
	return values.BoolVal(matches), nil
}

// likeMatch implements SQL LIKE's `%` (any run) and `_` (single
// character) via dynamic programming over value against pattern.
func likeMatch(value, pattern string) bool {
	v := []rune(value)
	p := []rune(pattern)
	dp := make([][]bool, len(v)+1)
	for i := range dp {
		dp[i] = make([]bool, len(p)+1)
	}
	dp[0][0] = true
	for j := 1; j <= len(p); j++ {
		if p[j-1] == '%' {
			dp[0][j] = dp[0][j-1]
		}
	}
	for i := 1; i <= len(v); i++ {
		for j := 1; j <= len(p); j++ {
			switch p[j-1] {
			case '%':
				dp[i][j] = dp[i][j-1] || dp[i-1][j]
			case '_':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && v[i-1] == p[j-1]
			}
		}
	}
	return dp[len(v)][len(p)]
}

func compareValues(left, right values.Value) (int, bool, error) {
	if left.IsText() && right.IsText() {
		return strings.Compare(left.Text(), right.Text()), true, nil
	}
	if left.IsBoolean() && right.IsBoolean() {
		switch {
		case left.Bool() == right.Bool():
			return 0, true, nil
		case !left.Bool():
			return -1, true, nil
		default:
			return 1, true, nil
		}
	}
	l, r, _, ok, err := numericPair(left, right)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	switch {
	case l < r:
		return -1, true, nil
	case l > r:
		return 1, true, nil
	default:
		return 0, true, nil
	}
}

func booleanFromValue(v values.Value) (*bool, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsBoolean() {
		return nil, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("expected boolean value, found %s", v))
	}
	b := v.Bool()
	return &b, nil
}

func numericFromValue(v values.Value) (value float64, isInt bool, ok bool, err error) {
	switch {
	case v.IsNull():
		return 0, false, false, nil
	case v.IsInteger(), v.IsTimestamp():
		return float64(v.Int()), true, true, nil
	case v.IsFloat():
		return v.Float64(), false, true, nil
	default:
		return 0, false, false, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("expected numeric value, found %s", v))
	}
}

func numericPair(left, right values.Value) (l, r float64, bothInt bool, ok bool, err error) {
	lv, lIsInt, lOK, err := numericFromValue(left)
	if err != nil {
		return 0, 0, false, false, err
	}
	rv, rIsInt, rOK, err := numericFromValue(right)
	if err != nil {
		return 0, 0, false, false, err
	}
	if !lOK || !rOK {
		return 0, 0, false, false, nil
	}
	return lv, rv, lIsInt && rIsInt, true, nil
}

func applyCast(v values.Value, target values.DataType) (values.Value, error) {
	if v.IsNull() {
		return values.Null(), nil
	}
	switch target {
	case values.Integer:
		switch {
		case v.IsInteger(), v.IsTimestamp():
			return values.IntVal(v.Int()), nil
		case v.IsFloat():
			return values.IntVal(int64(v.Float64())), nil
		case v.IsBoolean():
			if v.Bool() {
				return values.IntVal(1), nil
			}
			return values.IntVal(0), nil
		case v.IsText():
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSpace(v.Text()), "%d", &n); err != nil {
				return values.Value{}, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("cannot cast %q to integer", v.Text()))
			}
			return values.IntVal(n), nil
		}
	case values.Float:
		switch {
		case v.IsInteger(), v.IsTimestamp():
			return values.FloatVal(float64(v.Int())), nil
		case v.IsFloat():
			return values.FloatVal(v.Float64()), nil
		case v.IsBoolean():
			if v.Bool() {
				return values.FloatVal(1), nil
			}
			return values.FloatVal(0), nil
		case v.IsText():
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(v.Text()), "%g", &f); err != nil {
				return values.Value{}, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("cannot cast %q to real", v.Text()))
			}
			return values.FloatVal(f), nil
		}
	case values.Text:
		s, err := valueToString(v)
		if err != nil {
			return values.Value{}, err
		}
		return values.TextVal(s), nil
	case values.Boolean:
		switch {
		case v.IsBoolean():
			return v, nil
		case v.IsInteger(), v.IsTimestamp():
			return values.BoolVal(v.Int() != 0), nil
		case v.IsFloat():
			return values.BoolVal(v.Float64() != 0), nil
		case v.IsText():
			switch strings.ToLower(strings.TrimSpace(v.Text())) {
			case "true":
				return values.BoolVal(true), nil
			case "false":
				return values.BoolVal(false), nil
			default:
				return values.Value{}, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("cannot cast %q to boolean", v.Text()))
			}
		}
	case values.Timestamp:
		switch {
		case v.IsTimestamp(), v.IsInteger():
			return values.TimestampVal(v.Int()), nil
		case v.IsFloat():
			return values.TimestampVal(int64(v.Float64())), nil
		case v.IsText():
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSpace(v.Text()), "%d", &n); err != nil {
				return values.Value{}, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("cannot cast %q to timestamp", v.Text()))
			}
			return values.TimestampVal(n), nil
		}
	}
	return values.Value{}, chronoserr.New(chronoserr.KindExpression, fmt.Sprintf("cannot cast %s to %s", v, target))
}

func valueToString(v values.Value) (string, error) {
	if v.IsText() {
		return v.Text(), nil
	}
	return v.String(), nil
}
