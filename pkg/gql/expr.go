package gql

import (
	"fmt"
	"math"
	"strings"

	"github.com/orneryd/urddb/pkg/graph"
)

// Expression evaluation over one tuple.
//
// Arithmetic on int/int stays int (integer division truncates, division by
// zero errors); float or mixed operands promote to float. AND/OR short-
// circuit on the left operand. Aggregates are only legal under an Aggregate
// plan node and error anywhere else.

func (e *Executor) evalExpr(expr Expr, tuple Tuple, write graph.WriteStore) (graph.Value, error) {
	switch t := expr.(type) {
	case *LiteralExpr:
		return literalValue(t.Value), nil

	case *IdentExpr:
		if v, ok := tuple[t.Name]; ok {
			return v, nil
		}
		return graph.Null(), fmt.Errorf("%w: variable not found: %s", graph.ErrInvalidArgument, t.Name)

	case *PropertyExpr:
		key := t.Variable + "." + t.Property
		if v, ok := tuple[key]; ok {
			return v, nil
		}
		return graph.Null(), fmt.Errorf("%w: property not found: %s", graph.ErrInvalidArgument, key)

	case *ParameterExpr:
		if v, ok := e.params[t.Name]; ok {
			return v, nil
		}
		return graph.Null(), fmt.Errorf("%w: parameter $%s not bound", graph.ErrInvalidArgument, t.Name)

	case *BinaryExpr:
		// AND/OR short-circuit on the left operand.
		if t.Op == OpAnd || t.Op == OpOr {
			left, err := e.evalExpr(t.Left, tuple, nil)
			if err != nil {
				return graph.Null(), err
			}
			if left.Kind == graph.KindBool {
				if t.Op == OpAnd && !left.Bool {
					return graph.BoolValue(false), nil
				}
				if t.Op == OpOr && left.Bool {
					return graph.BoolValue(true), nil
				}
			}
			right, err := e.evalExpr(t.Right, tuple, nil)
			if err != nil {
				return graph.Null(), err
			}
			return evalBinaryOp(left, t.Op, right)
		}
		left, err := e.evalExpr(t.Left, tuple, nil)
		if err != nil {
			return graph.Null(), err
		}
		right, err := e.evalExpr(t.Right, tuple, nil)
		if err != nil {
			return graph.Null(), err
		}
		return evalBinaryOp(left, t.Op, right)

	case *UnaryExpr:
		v, err := e.evalExpr(t.Operand, tuple, nil)
		if err != nil {
			return graph.Null(), err
		}
		if v.Kind != graph.KindBool {
			return graph.Null(), fmt.Errorf("%w: NOT requires boolean", graph.ErrInvalidArgument)
		}
		return graph.BoolValue(!v.Bool), nil

	case *IsNullExpr:
		v, err := e.evalExpr(t.Operand, tuple, nil)
		if err != nil {
			return graph.Null(), err
		}
		if t.Negated {
			return graph.BoolValue(!v.IsNull()), nil
		}
		return graph.BoolValue(v.IsNull()), nil

	case *FunctionExpr:
		switch strings.ToUpper(t.Name) {
		case "ID":
			if len(t.Args) != 1 {
				return graph.Null(), fmt.Errorf("%w: ID() requires exactly 1 argument", graph.ErrInvalidArgument)
			}
			arg, err := e.evalExpr(t.Args[0], tuple, nil)
			if err != nil {
				return graph.Null(), err
			}
			if arg.Kind != graph.KindNodeRef {
				return graph.Null(), fmt.Errorf("%w: ID() requires a node argument", graph.ErrInvalidArgument)
			}
			return graph.IntValue(int64(arg.NodeRef)), nil
		}
		return graph.Null(), fmt.Errorf("%w: unknown function: %s", graph.ErrInvalidArgument, t.Name)

	case *ExistsExpr:
		return e.evalExists(t.Subquery, tuple, write)

	case *AggregateExpr:
		return graph.Null(), fmt.Errorf("%w: aggregate must be evaluated under an Aggregate node", graph.ErrInvalidArgument)
	}
	return graph.Null(), fmt.Errorf("%w: unknown expression %T", graph.ErrInvalidArgument, expr)
}

// evalExists evaluates an EXISTS subquery correlated on the enclosing tuple.
//
// The common shape (a single edge pattern, no WHERE) short-circuits to a
// direct neighbour lookup (optionally label-filtered and depth-ranged) from
// the bound from-node. Everything else re-plans the subquery and runs it
// with the enclosing tuple as parent context.
func (e *Executor) evalExists(sub *Query, tuple Tuple, write graph.WriteStore) (graph.Value, error) {
	reader := e.reader(write)

	if sub.Where == nil && sub.Match != nil {
		if edge := singleEdgePattern(sub.Match.Patterns); edge != nil && edge.From.Variable != "" {
			if fromVal, bound := tuple[edge.From.Variable]; bound && fromVal.Kind == graph.KindNodeRef {
				if reader == nil {
					return graph.BoolValue(false), nil
				}
				fromID := fromVal.NodeRef
				labelMatches := func(node *graph.Node) bool {
					if len(edge.To.Labels) == 0 {
						return true
					}
					for _, l := range edge.To.Labels {
						if node.HasLabel(l) {
							return true
						}
					}
					return false
				}

				if edge.Depth != nil {
					reachable, err := traverseVariableLength(reader, fromID, splitEdgeTypes(edge.EdgeType), edge.Direction, edge.Depth.Min, edge.Depth.Max)
					if err != nil {
						return graph.Null(), err
					}
					for _, node := range reachable {
						if labelMatches(node) {
							return graph.BoolValue(true), nil
						}
					}
					return graph.BoolValue(false), nil
				}

				neighbors, err := neighborsByDirection(reader, fromID, edge.Direction)
				if err != nil {
					return graph.Null(), err
				}
				if types := splitEdgeTypes(edge.EdgeType); len(types) > 0 {
					neighbors = filterNeighborTypes(neighbors, types)
				}
				for _, nb := range neighbors {
					if labelMatches(nb.Node) {
						return graph.BoolValue(true), nil
					}
				}
				return graph.BoolValue(false), nil
			}
		}
	}

	// General path: plan the subquery and run it against the enclosing
	// tuple as parent context.
	plan, err := Plan(sub)
	if err != nil {
		return graph.Null(), fmt.Errorf("%w: EXISTS subquery planning: %v", graph.ErrInvalidArgument, err)
	}
	if reader == nil {
		return graph.BoolValue(false), nil
	}
	subExec := &Executor{read: reader, params: e.params}
	var counters execCounters
	tuples, err := subExec.executeNode(plan, tuple, nil, &counters)
	if err != nil {
		return graph.Null(), err
	}
	return graph.BoolValue(len(tuples) > 0), nil
}

// singleEdgePattern recognises the one-edge MATCH shapes: a lone edge
// pattern, or the start node followed by its edge.
func singleEdgePattern(patterns []Pattern) *EdgePattern {
	switch len(patterns) {
	case 1:
		if edge, ok := patterns[0].(*EdgePattern); ok {
			return edge
		}
	case 2:
		node, ok := patterns[0].(*NodePattern)
		if !ok {
			return nil
		}
		if edge, ok := patterns[1].(*EdgePattern); ok && edge.From.Variable == node.Variable {
			return edge
		}
	}
	return nil
}

func evalBinaryOp(left graph.Value, op BinOp, right graph.Value) (graph.Value, error) {
	// Int/int stays int.
	if left.Kind == graph.KindInt && right.Kind == graph.KindInt {
		l, r := left.Int, right.Int
		switch op {
		case OpAdd:
			return graph.IntValue(l + r), nil
		case OpSub:
			return graph.IntValue(l - r), nil
		case OpMul:
			return graph.IntValue(l * r), nil
		case OpDiv:
			if r == 0 {
				return graph.Null(), fmt.Errorf("%w: division by zero", graph.ErrInvalidArgument)
			}
			return graph.IntValue(l / r), nil
		case OpEq:
			return graph.BoolValue(l == r), nil
		case OpNe:
			return graph.BoolValue(l != r), nil
		case OpLt:
			return graph.BoolValue(l < r), nil
		case OpLe:
			return graph.BoolValue(l <= r), nil
		case OpGt:
			return graph.BoolValue(l > r), nil
		case OpGe:
			return graph.BoolValue(l >= r), nil
		}
		return graph.Null(), fmt.Errorf("%w: invalid int op %s", graph.ErrInvalidArgument, op)
	}

	// Float or mixed numeric promotes to float.
	if isNumeric(left) && isNumeric(right) {
		l, r := asFloat(left), asFloat(right)
		switch op {
		case OpAdd:
			return graph.FloatValue(l + r), nil
		case OpSub:
			return graph.FloatValue(l - r), nil
		case OpMul:
			return graph.FloatValue(l * r), nil
		case OpDiv:
			if r == 0 {
				return graph.Null(), fmt.Errorf("%w: division by zero", graph.ErrInvalidArgument)
			}
			return graph.FloatValue(l / r), nil
		case OpEq:
			return graph.BoolValue(l == r), nil
		case OpNe:
			return graph.BoolValue(l != r), nil
		case OpLt:
			return graph.BoolValue(l < r), nil
		case OpLe:
			return graph.BoolValue(l <= r), nil
		case OpGt:
			return graph.BoolValue(l > r), nil
		case OpGe:
			return graph.BoolValue(l >= r), nil
		}
		return graph.Null(), fmt.Errorf("%w: invalid numeric op %s", graph.ErrInvalidArgument, op)
	}

	if left.Kind == graph.KindBool && right.Kind == graph.KindBool {
		switch op {
		case OpAnd:
			return graph.BoolValue(left.Bool && right.Bool), nil
		case OpOr:
			return graph.BoolValue(left.Bool || right.Bool), nil
		case OpEq:
			return graph.BoolValue(left.Bool == right.Bool), nil
		case OpNe:
			return graph.BoolValue(left.Bool != right.Bool), nil
		}
		return graph.Null(), fmt.Errorf("%w: invalid bool op %s", graph.ErrInvalidArgument, op)
	}

	if left.Kind == graph.KindString && right.Kind == graph.KindString {
		switch op {
		case OpEq:
			return graph.BoolValue(left.Str == right.Str), nil
		case OpNe:
			return graph.BoolValue(left.Str != right.Str), nil
		}
		return graph.Null(), fmt.Errorf("%w: invalid string op %s", graph.ErrInvalidArgument, op)
	}

	return graph.Null(), fmt.Errorf("%w: type mismatch in binary op %s", graph.ErrInvalidArgument, op)
}

func isNumeric(v graph.Value) bool {
	return v.Kind == graph.KindInt || v.Kind == graph.KindFloat
}

func asFloat(v graph.Value) float64 {
	if v.Kind == graph.KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// evalAggregate folds an aggregate expression over a tuple group.
//
// COUNT counts input tuples. SUM/AVG/MIN/MAX skip non-numeric values and
// always return Float; AVG and MIN/MAX of zero numeric inputs are Null.
func (e *Executor) evalAggregate(expr Expr, tuples []Tuple) (graph.Value, error) {
	agg, ok := expr.(*AggregateExpr)
	if !ok {
		return graph.Null(), fmt.Errorf("%w: expected aggregate expression", graph.ErrInvalidArgument)
	}
	switch agg.Func {
	case AggCount:
		return graph.IntValue(int64(len(tuples))), nil

	case AggSum:
		sum := 0.0
		for _, t := range tuples {
			if v, err := e.evalExpr(agg.Arg, t, nil); err == nil && isNumeric(v) {
				sum += asFloat(v)
			}
		}
		return graph.FloatValue(sum), nil

	case AggAvg:
		sum, count := 0.0, 0
		for _, t := range tuples {
			if v, err := e.evalExpr(agg.Arg, t, nil); err == nil && isNumeric(v) {
				sum += asFloat(v)
				count++
			}
		}
		if count == 0 {
			return graph.Null(), nil
		}
		return graph.FloatValue(sum / float64(count)), nil

	case AggMin:
		best := math.NaN()
		found := false
		for _, t := range tuples {
			if v, err := e.evalExpr(agg.Arg, t, nil); err == nil && isNumeric(v) {
				f := asFloat(v)
				if !found || f < best {
					best = f
					found = true
				}
			}
		}
		if !found {
			return graph.Null(), nil
		}
		return graph.FloatValue(best), nil

	case AggMax:
		best := math.NaN()
		found := false
		for _, t := range tuples {
			if v, err := e.evalExpr(agg.Arg, t, nil); err == nil && isNumeric(v) {
				f := asFloat(v)
				if !found || f > best {
					best = f
					found = true
				}
			}
		}
		if !found {
			return graph.Null(), nil
		}
		return graph.FloatValue(best), nil
	}
	return graph.Null(), fmt.Errorf("%w: unknown aggregate", graph.ErrInvalidArgument)
}
