package gql

import "math"

// Query is a parsed statement: optional clauses in fixed order, with at
// least one of MATCH or CREATE present.
type Query struct {
	Match   *MatchClause
	Create  *CreateClause
	With    *WithClause
	Where   *WhereClause
	Return  *ReturnClause
	OrderBy *OrderByClause
	Limit   *uint64
}

// MatchClause holds the MATCH pattern sequence.
type MatchClause struct {
	Patterns []Pattern
}

// CreateClause holds the CREATE pattern sequence.
type CreateClause struct {
	Patterns []Pattern
}

// Pattern is a node or edge element of a pattern sequence.
type Pattern interface {
	patternMarker()
}

// NodePattern is a `(var:Label {prop: literal})` element.
type NodePattern struct {
	Variable   string // empty for anonymous nodes
	Labels     []string
	Properties map[string]Literal
}

func (*NodePattern) patternMarker() {}

// EdgePattern is a `-[var:TYPE*min..max {props}]->` element together with
// its endpoint node patterns.
type EdgePattern struct {
	Variable   string // empty for anonymous edges
	EdgeType   string // may be a |-joined union; empty for any type
	Direction  Direction
	Properties map[string]Literal
	From       *NodePattern
	To         *NodePattern
	Depth      *DepthRange // nil for single-hop
}

func (*EdgePattern) patternMarker() {}

// DepthRange bounds a variable-length traversal. The quantifier forms map
// as: bare star is {1, DepthUnbounded}; "*N" is {N, N}; "*N..M" is {N, M};
// "*N.." is {N, DepthUnbounded}; "*..M" is {0, M}.
type DepthRange struct {
	Min uint32
	Max uint32
}

// DepthUnbounded is the open upper bound of a depth range.
const DepthUnbounded = math.MaxUint32

// Direction is the orientation of an edge pattern.
type Direction int

const (
	// DirectionLeft is `<-`.
	DirectionLeft Direction = iota
	// DirectionRight is `->`.
	DirectionRight
	// DirectionBoth is an undirected `-`.
	DirectionBoth
)

// WhereClause wraps the filter predicate.
type WhereClause struct {
	Expr Expr
}

// WithClause is a pipeline projection; aliases are mandatory.
type WithClause struct {
	Items []WithItem
}

// WithItem is one `expr AS alias` projection.
type WithItem struct {
	Expr  Expr
	Alias string
}

// ReturnClause lists the projected items.
type ReturnClause struct {
	Items []ReturnItem
}

// ReturnItem is one projected expression with an optional alias.
type ReturnItem struct {
	Expr  Expr
	Alias string
}

// OrderByClause lists the sort keys.
type OrderByClause struct {
	Items []OrderByItem
}

// OrderByItem is one sort key.
type OrderByItem struct {
	Expr       Expr
	Descending bool
}

// Expr is a query expression.
type Expr interface {
	exprMarker()
}

// LiteralExpr wraps a literal value.
type LiteralExpr struct {
	Value Literal
}

func (*LiteralExpr) exprMarker() {}

// IdentExpr is a bare variable reference.
type IdentExpr struct {
	Name string
}

func (*IdentExpr) exprMarker() {}

// PropertyExpr is a `variable.property` access.
type PropertyExpr struct {
	Variable string
	Property string
}

func (*PropertyExpr) exprMarker() {}

// ParameterExpr is a `$name` reference into the bound parameter map.
type ParameterExpr struct {
	Name string
}

func (*ParameterExpr) exprMarker() {}

// BinaryExpr applies a binary operator.
type BinaryExpr struct {
	Left  Expr
	Op    BinOp
	Right Expr
}

func (*BinaryExpr) exprMarker() {}

// UnaryExpr applies a unary operator.
type UnaryExpr struct {
	Op      UnOp
	Operand Expr
}

func (*UnaryExpr) exprMarker() {}

// AggregateExpr is an aggregate function call, legal only under an
// Aggregate plan node.
type AggregateExpr struct {
	Func AggFunc
	Arg  Expr
}

func (*AggregateExpr) exprMarker() {}

// FunctionExpr is a generic function call (ID is the one stipulated
// function).
type FunctionExpr struct {
	Name string
	Args []Expr
}

func (*FunctionExpr) exprMarker() {}

// IsNullExpr is `expr IS NULL` / `expr IS NOT NULL`.
type IsNullExpr struct {
	Operand Expr
	Negated bool
}

func (*IsNullExpr) exprMarker() {}

// ExistsExpr is an `EXISTS { subquery }` predicate.
type ExistsExpr struct {
	Subquery *Query
}

func (*ExistsExpr) exprMarker() {}

// BinOp enumerates binary operators.
type BinOp int

const (
	OpEq BinOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

func (op BinOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	}
	return "?"
}

// UnOp enumerates unary operators.
type UnOp int

// OpNot is logical negation.
const OpNot UnOp = iota

// AggFunc enumerates aggregate functions.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	}
	return "agg"
}

// LiteralKind tags a Literal variant.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInt
	LitFloat
	LitBool
	LitNull
)

// Literal is a literal value appearing in the query text.
type Literal struct {
	Kind  LiteralKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

// HasCreate reports whether the query (ignoring subqueries) creates data.
// The engine uses it to decide whether to inject a write handle.
func (q *Query) HasCreate() bool {
	return q.Create != nil
}

// CollectParameters gathers every `$name` referenced by the query,
// including EXISTS subqueries.
func (q *Query) CollectParameters() map[string]struct{} {
	params := make(map[string]struct{})
	if q.With != nil {
		for _, item := range q.With.Items {
			collectParams(item.Expr, params)
		}
	}
	if q.Where != nil {
		collectParams(q.Where.Expr, params)
	}
	if q.Return != nil {
		for _, item := range q.Return.Items {
			collectParams(item.Expr, params)
		}
	}
	if q.OrderBy != nil {
		for _, item := range q.OrderBy.Items {
			collectParams(item.Expr, params)
		}
	}
	return params
}

func collectParams(e Expr, params map[string]struct{}) {
	switch t := e.(type) {
	case *ParameterExpr:
		params[t.Name] = struct{}{}
	case *BinaryExpr:
		collectParams(t.Left, params)
		collectParams(t.Right, params)
	case *UnaryExpr:
		collectParams(t.Operand, params)
	case *IsNullExpr:
		collectParams(t.Operand, params)
	case *AggregateExpr:
		collectParams(t.Arg, params)
	case *FunctionExpr:
		for _, arg := range t.Args {
			collectParams(arg, params)
		}
	case *ExistsExpr:
		for name := range t.Subquery.CollectParameters() {
			params[name] = struct{}{}
		}
	}
}
