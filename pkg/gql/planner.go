package gql

import (
	"fmt"
	"sort"

	"github.com/orneryd/urddb/pkg/graph"
)

// The planner lowers a parsed Query into a physical operator tree. The plan
// is a value tree: a marker interface plus one struct per operator keeps
// type switches exhaustive and children held by value, not behind dispatch.

// PlanNode is one physical operator.
type PlanNode interface {
	planMarker()
}

// LabelScan scans the label index, binding each node to Variable.
type LabelScan struct {
	Variable string
	Label    string
}

func (*LabelScan) planMarker() {}

// FullScan scans every node, binding each to Variable.
type FullScan struct {
	Variable string
}

func (*FullScan) planMarker() {}

// CreatePlan materialises CREATE patterns.
type CreatePlan struct {
	Patterns []Pattern
}

func (*CreatePlan) planMarker() {}

// MatchCreate runs the CREATE patterns once per tuple produced by the
// MATCH input.
type MatchCreate struct {
	MatchInput     PlanNode
	CreatePatterns []Pattern
}

func (*MatchCreate) planMarker() {}

// Filter keeps the tuples whose predicate evaluates to boolean true.
type Filter struct {
	Input     PlanNode
	Predicate Expr
}

func (*Filter) planMarker() {}

// Project evaluates each item per tuple.
type Project struct {
	Input PlanNode
	Items []ReturnItem
}

func (*Project) planMarker() {}

// OrderBy sorts tuples by its keys in order.
type OrderBy struct {
	Input PlanNode
	Items []OrderByItem
}

func (*OrderBy) planMarker() {}

// AggregateItem is one aliased aggregate output.
type AggregateItem struct {
	Alias string
	Expr  Expr
}

// Aggregate groups by the non-aggregate expressions and evaluates the
// aggregates per group.
type Aggregate struct {
	Input      PlanNode
	GroupBy    []Expr
	Aggregates []AggregateItem
}

func (*Aggregate) planMarker() {}

// Limit keeps the first Count tuples.
type Limit struct {
	Input PlanNode
	Count uint64
}

func (*Limit) planMarker() {}

// Expand traverses edges from FromVar to ToVar: one hop when Depth is nil,
// otherwise a breadth-first variable-length traversal. EdgeType may hold a
// |-joined union.
type Expand struct {
	Input     PlanNode
	FromVar   string
	EdgeVar   string
	ToVar     string
	EdgeType  string
	Direction Direction
	Depth     *DepthRange
}

func (*Expand) planMarker() {}

// CartesianProduct cross-joins two unrelated standalone patterns.
type CartesianProduct struct {
	Left  PlanNode
	Right PlanNode
}

func (*CartesianProduct) planMarker() {}

// Plan lowers a query into an operator tree. The same query always
// produces the same plan.
func Plan(q *Query) (PlanNode, error) {
	var plan PlanNode
	var err error
	switch {
	case q.Match != nil && q.Create != nil:
		matchPlan, err := planMatch(q.Match)
		if err != nil {
			return nil, err
		}
		plan = &MatchCreate{MatchInput: matchPlan, CreatePatterns: q.Create.Patterns}
	case q.Match != nil:
		plan, err = planMatch(q.Match)
		if err != nil {
			return nil, err
		}
	case q.Create != nil:
		if len(q.Create.Patterns) == 0 {
			return nil, fmt.Errorf("%w: empty CREATE clause", graph.ErrInvalidArgument)
		}
		plan = &CreatePlan{Patterns: q.Create.Patterns}
	default:
		return nil, fmt.Errorf("%w: query must have MATCH or CREATE", graph.ErrInvalidArgument)
	}

	// WITH is an intermediate projection with forced aliases.
	if q.With != nil {
		items := make([]ReturnItem, len(q.With.Items))
		for i, item := range q.With.Items {
			items[i] = ReturnItem{Expr: item.Expr, Alias: item.Alias}
		}
		plan = &Project{Input: plan, Items: items}
	}

	if q.Where != nil {
		plan = &Filter{Input: plan, Predicate: q.Where.Expr}
	}

	// RETURN is optional for CREATE.
	if q.Return == nil {
		return plan, nil
	}

	hasAgg := false
	for _, item := range q.Return.Items {
		if hasAggregate(item.Expr) {
			hasAgg = true
			break
		}
	}

	if hasAgg {
		// Non-aggregate items in a RETURN with aggregates form the
		// implicit GROUP BY.
		var groupBy []Expr
		var aggregates []AggregateItem
		for _, item := range q.Return.Items {
			if hasAggregate(item.Expr) {
				alias := item.Alias
				if alias == "" {
					if agg, ok := item.Expr.(*AggregateExpr); ok {
						alias = agg.Func.String()
					} else {
						alias = "agg"
					}
				}
				aggregates = append(aggregates, AggregateItem{Alias: alias, Expr: item.Expr})
			} else {
				groupBy = append(groupBy, item.Expr)
			}
		}
		plan = &Aggregate{Input: plan, GroupBy: groupBy, Aggregates: aggregates}
	} else {
		plan = &Project{Input: plan, Items: q.Return.Items}
	}

	if q.OrderBy != nil {
		plan = &OrderBy{Input: plan, Items: q.OrderBy.Items}
	}
	if q.Limit != nil {
		plan = &Limit{Input: plan, Count: *q.Limit}
	}
	return plan, nil
}

// planMatch lowers a MATCH pattern sequence.
//
// The rules that keep bindings unique:
//  1. a node variable already bound (by a scan or as a prior Expand's
//     to-var) never gets a fresh scan; its inline properties lower to a
//     Filter instead
//  2. a node adjacent to an edge that binds the same variable is subsumed
//     by that edge's Expand
//  3. unrelated standalone nodes compose via CartesianProduct
//  4. every inline node property is re-applied once more as a global
//     safety-net Filter over the final plan
//  5. a variable-length edge with min >= 1 gains an ID(from) <> ID(to)
//     predicate to exclude zero-length self-matches
func planMatch(m *MatchClause) (PlanNode, error) {
	if len(m.Patterns) == 0 {
		return nil, fmt.Errorf("%w: empty MATCH clause", graph.ErrInvalidArgument)
	}

	var plan PlanNode
	bound := make(map[string]bool)

	// Variables produced as an edge's to-node anywhere in the sequence; a
	// to-node without its own variable borrows the following node pattern's.
	toNodeVars := make(map[string]bool)
	for i, pat := range m.Patterns {
		edge, ok := pat.(*EdgePattern)
		if !ok {
			continue
		}
		if edge.To.Variable != "" {
			toNodeVars[edge.To.Variable] = true
		} else if i+1 < len(m.Patterns) {
			if next, ok := m.Patterns[i+1].(*NodePattern); ok && next.Variable != "" {
				toNodeVars[next.Variable] = true
			}
		}
	}

	for i, pat := range m.Patterns {
		switch node := pat.(type) {
		case *NodePattern:
			// Already bound by a previous step: lower inline properties to
			// a Filter, no fresh scan.
			if node.Variable != "" && bound[node.Variable] {
				if len(node.Properties) > 0 {
					plan = &Filter{Input: plan, Predicate: propertiesPredicate(node.Variable, node.Properties)}
				}
				continue
			}
			// Produced as a to-node somewhere: the Expand binds it.
			if node.Variable != "" && toNodeVars[node.Variable] {
				continue
			}
			// Subsumed by the previous edge's to-node.
			if i > 0 {
				if prevEdge, ok := m.Patterns[i-1].(*EdgePattern); ok {
					if prevEdge.To.Variable != "" && prevEdge.To.Variable == node.Variable {
						continue
					}
				}
			}
			// Subsumed by the next edge.
			if i+1 < len(m.Patterns) {
				if nextEdge, ok := m.Patterns[i+1].(*EdgePattern); ok {
					if nextEdge.To.Variable != "" && nextEdge.To.Variable == node.Variable {
						continue
					}
					if plan != nil && nextEdge.From.Variable != "" && nextEdge.From.Variable == node.Variable {
						continue
					}
				}
			}

			if node.Variable == "" {
				return nil, fmt.Errorf("%w: node must have variable", graph.ErrInvalidArgument)
			}
			var nodePlan PlanNode
			if len(node.Labels) > 0 {
				nodePlan = &LabelScan{Variable: node.Variable, Label: node.Labels[0]}
			} else {
				nodePlan = &FullScan{Variable: node.Variable}
			}
			if len(node.Properties) > 0 {
				nodePlan = &Filter{Input: nodePlan, Predicate: propertiesPredicate(node.Variable, node.Properties)}
			}
			if plan == nil {
				plan = nodePlan
			} else {
				plan = &CartesianProduct{Left: plan, Right: nodePlan}
			}
			bound[node.Variable] = true

		case *EdgePattern:
			edge := node
			fromVar := edge.From.Variable
			if fromVar == "" {
				if i > 0 {
					if prevNode, ok := m.Patterns[i-1].(*NodePattern); ok && prevNode.Variable != "" {
						fromVar = prevNode.Variable
					}
				}
				if fromVar == "" {
					return nil, fmt.Errorf("%w: from node must have variable", graph.ErrInvalidArgument)
				}
			}
			toVar := edge.To.Variable
			if toVar == "" {
				if i+1 < len(m.Patterns) {
					if nextNode, ok := m.Patterns[i+1].(*NodePattern); ok && nextNode.Variable != "" {
						toVar = nextNode.Variable
					}
				}
				if toVar == "" {
					toVar = fmt.Sprintf("__anon_to_%d", i)
				}
			}

			var input PlanNode
			if plan != nil {
				input = plan
				plan = nil
			} else if len(edge.From.Labels) > 0 {
				input = &LabelScan{Variable: fromVar, Label: edge.From.Labels[0]}
			} else {
				input = &FullScan{Variable: fromVar}
			}
			// Inline properties on the starting node constrain the input.
			if len(edge.From.Properties) > 0 {
				input = &Filter{Input: input, Predicate: propertiesPredicate(fromVar, edge.From.Properties)}
			}

			var expandPlan PlanNode = &Expand{
				Input:     input,
				FromVar:   fromVar,
				EdgeVar:   edge.Variable,
				ToVar:     toVar,
				EdgeType:  edge.EdgeType,
				Direction: edge.Direction,
				Depth:     edge.Depth,
			}

			// Inline properties of the to-node and of adjacent node
			// patterns that share the to-var lower to post-Expand
			// predicates; the from-node constraint is enforced
			// post-Expand as well.
			var predicate Expr
			if i > 0 {
				if prevNode, ok := m.Patterns[i-1].(*NodePattern); ok {
					if prevNode.Variable != "" && prevNode.Variable == toVar && len(prevNode.Properties) > 0 {
						predicate = andExpr(predicate, propertiesPredicate(toVar, prevNode.Properties))
					}
				}
			}
			if i+1 < len(m.Patterns) {
				if nextNode, ok := m.Patterns[i+1].(*NodePattern); ok {
					if nextNode.Variable != "" && nextNode.Variable == toVar && len(nextNode.Properties) > 0 {
						predicate = andExpr(predicate, propertiesPredicate(toVar, nextNode.Properties))
					}
				}
			}
			if len(edge.To.Properties) > 0 {
				predicate = andExpr(predicate, propertiesPredicate(toVar, edge.To.Properties))
			}
			if len(edge.From.Properties) > 0 {
				predicate = andExpr(predicate, propertiesPredicate(fromVar, edge.From.Properties))
			}
			if predicate != nil {
				expandPlan = &Filter{Input: expandPlan, Predicate: predicate}
			}

			// A variable-length path with min >= 1 must not match a node
			// to itself through a zero-length path.
			if edge.Depth != nil && edge.Depth.Min >= 1 {
				neq := &BinaryExpr{
					Left:  &FunctionExpr{Name: "ID", Args: []Expr{&IdentExpr{Name: fromVar}}},
					Op:    OpNe,
					Right: &FunctionExpr{Name: "ID", Args: []Expr{&IdentExpr{Name: toVar}}},
				}
				expandPlan = &Filter{Input: expandPlan, Predicate: neq}
			}

			bound[toVar] = true
			plan = expandPlan
		}
	}

	if plan == nil {
		return nil, fmt.Errorf("%w: invalid MATCH plan", graph.ErrInvalidArgument)
	}

	// Safety net: re-apply every inline node property as one global
	// Filter, closing the corner cases where a standalone scan was
	// skipped by the rules above.
	var globalPred Expr
	for _, pat := range m.Patterns {
		if node, ok := pat.(*NodePattern); ok {
			if node.Variable != "" && len(node.Properties) > 0 {
				globalPred = andExpr(globalPred, propertiesPredicate(node.Variable, node.Properties))
			}
		}
		if edge, ok := pat.(*EdgePattern); ok {
			if edge.To.Variable != "" && len(edge.To.Properties) > 0 {
				globalPred = andExpr(globalPred, propertiesPredicate(edge.To.Variable, edge.To.Properties))
			}
		}
	}
	if globalPred != nil {
		plan = &Filter{Input: plan, Predicate: globalPred}
	}
	return plan, nil
}

// propertiesPredicate lowers inline properties into AND-combined
// `var.prop = literal` equalities, in sorted key order so planning is
// deterministic.
func propertiesPredicate(variable string, props map[string]Literal) Expr {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pred Expr
	for _, k := range keys {
		eq := &BinaryExpr{
			Left:  &PropertyExpr{Variable: variable, Property: k},
			Op:    OpEq,
			Right: &LiteralExpr{Value: props[k]},
		}
		pred = andExpr(pred, eq)
	}
	return pred
}

func andExpr(left, right Expr) Expr {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	return &BinaryExpr{Left: left, Op: OpAnd, Right: right}
}

func hasAggregate(e Expr) bool {
	switch t := e.(type) {
	case *AggregateExpr:
		return true
	case *BinaryExpr:
		return hasAggregate(t.Left) || hasAggregate(t.Right)
	case *UnaryExpr:
		return hasAggregate(t.Operand)
	}
	return false
}
