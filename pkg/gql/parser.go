package gql

import (
	"fmt"
	"strings"

	"github.com/orneryd/urddb/pkg/graph"
)

// parser is a recursive-descent parser over the flat token stream.
type parser struct {
	tokens []token
	pos    int
}

// Parse parses a query string into its abstract syntax tree.
func Parse(input string) (*Query, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseQuery()
}

func (p *parser) peek() token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return token{kind: tokEOF}
}

func (p *parser) advance() token {
	tok := p.peek()
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) error {
	tok := p.advance()
	if tok.kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", graph.ErrInvalidArgument, what, tok)
	}
	return nil
}

// parseQuery parses the fixed clause order:
// MATCH? CREATE? WITH? WHERE? RETURN? ORDER BY? LIMIT?
func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}

	if p.peek().kind == tokMatch {
		m, err := p.parseMatch()
		if err != nil {
			return nil, err
		}
		q.Match = m
	}
	if p.peek().kind == tokCreate {
		c, err := p.parseCreate()
		if err != nil {
			return nil, err
		}
		q.Create = c
	}
	if q.Match == nil && q.Create == nil {
		return nil, fmt.Errorf("%w: expected MATCH or CREATE, got %s", graph.ErrInvalidArgument, p.peek())
	}

	if p.peek().kind == tokWith {
		w, err := p.parseWith()
		if err != nil {
			return nil, err
		}
		q.With = w
	}
	if p.peek().kind == tokWhere {
		w, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		q.Where = w
	}
	if p.peek().kind == tokReturn {
		r, err := p.parseReturn()
		if err != nil {
			return nil, err
		}
		q.Return = r
	}
	if p.peek().kind == tokOrder {
		o, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		q.OrderBy = o
	}
	if p.peek().kind == tokLimit {
		p.advance()
		tok := p.advance()
		if tok.kind != tokInt || tok.intV < 0 {
			return nil, fmt.Errorf("%w: expected non-negative int after LIMIT", graph.ErrInvalidArgument)
		}
		n := uint64(tok.intV)
		q.Limit = &n
	}
	return q, nil
}

func (p *parser) parseMatch() (*MatchClause, error) {
	if err := p.expect(tokMatch, "MATCH"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternsMatch()
	if err != nil {
		return nil, err
	}
	return &MatchClause{Patterns: patterns}, nil
}

func (p *parser) parseCreate() (*CreateClause, error) {
	if err := p.expect(tokCreate, "CREATE"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternsCreate()
	if err != nil {
		return nil, err
	}
	return &CreateClause{Patterns: patterns}, nil
}

// parsePatternsMatch emits each chain's starting node, then its edges.
func (p *parser) parsePatternsMatch() ([]Pattern, error) {
	var all []Pattern
	for {
		fromNode, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		all = append(all, fromNode)
		for p.peek().kind == tokMinus || p.peek().kind == tokLeftArrow {
			edge, err := p.parseEdgePattern(fromNode)
			if err != nil {
				return nil, err
			}
			fromNode = edge.To
			all = append(all, edge)
		}
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return all, nil
}

// parsePatternsCreate emits each chain's edges, or the bare node when no
// edge follows (the starting node is implied by the first edge).
func (p *parser) parsePatternsCreate() ([]Pattern, error) {
	var all []Pattern
	for {
		fromNode, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		chainStart := len(all)
		for p.peek().kind == tokMinus || p.peek().kind == tokLeftArrow {
			edge, err := p.parseEdgePattern(fromNode)
			if err != nil {
				return nil, err
			}
			fromNode = edge.To
			all = append(all, edge)
		}
		if len(all) == chainStart {
			all = append(all, fromNode)
		}
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return all, nil
}

func isEdgePattern(p Pattern) bool {
	_, ok := p.(*EdgePattern)
	return ok
}

func (p *parser) parseEdgePattern(from *NodePattern) (*EdgePattern, error) {
	direction := DirectionBoth
	if p.peek().kind == tokLeftArrow {
		p.advance()
		direction = DirectionLeft
	} else if err := p.expect(tokMinus, "-"); err != nil {
		return nil, err
	}

	var edgeVar, edgeType string
	var props map[string]Literal
	var depth *DepthRange
	if p.peek().kind == tokLBracket {
		p.advance()

		if p.peek().kind == tokIdent {
			edgeVar = p.advance().text
		}

		if p.peek().kind == tokColon {
			p.advance()
			if p.peek().kind != tokIdent {
				return nil, fmt.Errorf("%w: expected edge type after :", graph.ErrInvalidArgument)
			}
			types := []string{p.advance().text}
			for p.peek().kind == tokPipe {
				p.advance()
				if p.peek().kind != tokIdent {
					return nil, fmt.Errorf("%w: expected edge type after |", graph.ErrInvalidArgument)
				}
				types = append(types, p.advance().text)
			}
			edgeType = strings.Join(types, "|")
		}

		inner, err := p.parseDepthRange()
		if err != nil {
			return nil, err
		}

		if p.peek().kind == tokLBrace {
			p.advance()
			props, err = p.parseProperties()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRBrace, "}"); err != nil {
				return nil, err
			}
		}

		if err := p.expect(tokRBracket, "]"); err != nil {
			return nil, err
		}

		// The quantifier may also sit outside the bracket: -[:T]*1..3-
		outer, err := p.parseDepthRange()
		if err != nil {
			return nil, err
		}
		switch {
		case inner != nil && outer != nil:
			return nil, fmt.Errorf("%w: depth specified twice (inside and outside bracket)", graph.ErrInvalidArgument)
		case inner != nil:
			depth = inner
		case outer != nil:
			depth = outer
		}
	}

	if direction == DirectionLeft {
		// <-[r]- carries a closing dash after the bracket.
		if p.peek().kind == tokMinus {
			p.advance()
		}
	} else {
		switch p.peek().kind {
		case tokArrow:
			p.advance()
			direction = DirectionRight
		case tokMinus:
			// Undirected pattern -[r]-; consume the closing dash.
			p.advance()
		}
	}

	to, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]Literal{}
	}
	return &EdgePattern{
		Variable:   edgeVar,
		EdgeType:   edgeType,
		Direction:  direction,
		Properties: props,
		From:       from,
		To:         to,
		Depth:      depth,
	}, nil
}

// parseDepthRange parses the optional `*`, `*N`, `*N..M`, `*N..`, `*..M`
// quantifier forms. A nil result means no quantifier was present.
func (p *parser) parseDepthRange() (*DepthRange, error) {
	if p.peek().kind != tokStar {
		return nil, nil
	}
	p.advance()

	switch p.peek().kind {
	case tokInt:
		minTok := p.advance()
		minV := uint32(minTok.intV)
		if p.peek().kind == tokDotDot {
			p.advance()
			if p.peek().kind == tokInt {
				maxTok := p.advance()
				return &DepthRange{Min: minV, Max: uint32(maxTok.intV)}, nil
			}
			// *N.. open upper bound
			return &DepthRange{Min: minV, Max: DepthUnbounded}, nil
		}
		// *N exact depth
		return &DepthRange{Min: minV, Max: minV}, nil
	case tokDotDot:
		p.advance()
		if p.peek().kind != tokInt {
			return nil, fmt.Errorf("%w: expected number after ..", graph.ErrInvalidArgument)
		}
		maxTok := p.advance()
		return &DepthRange{Min: 0, Max: uint32(maxTok.intV)}, nil
	default:
		// bare *
		return &DepthRange{Min: 1, Max: DepthUnbounded}, nil
	}
}

func (p *parser) parseNodePattern() (*NodePattern, error) {
	if err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	node := &NodePattern{Properties: map[string]Literal{}}
	if p.peek().kind == tokIdent {
		node.Variable = p.advance().text
	}
	if p.peek().kind == tokColon {
		p.advance()
		tok := p.advance()
		if tok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected label after :", graph.ErrInvalidArgument)
		}
		node.Labels = append(node.Labels, tok.text)
	}
	if p.peek().kind == tokLBrace {
		p.advance()
		props, err := p.parseProperties()
		if err != nil {
			return nil, err
		}
		node.Properties = props
		if err := p.expect(tokRBrace, "}"); err != nil {
			return nil, err
		}
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parseProperties() (map[string]Literal, error) {
	props := map[string]Literal{}
	for {
		if p.peek().kind == tokRBrace {
			break
		}
		keyTok := p.advance()
		if keyTok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected property key, got %s", graph.ErrInvalidArgument, keyTok)
		}
		if err := p.expect(tokColon, ":"); err != nil {
			return nil, err
		}
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		props[keyTok.text] = lit
		if p.peek().kind == tokComma {
			p.advance()
		} else {
			break
		}
	}
	return props, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	tok := p.advance()
	switch tok.kind {
	case tokString:
		return Literal{Kind: LitString, Str: tok.text}, nil
	case tokInt:
		return Literal{Kind: LitInt, Int: tok.intV}, nil
	case tokFloat:
		return Literal{Kind: LitFloat, Float: tok.floatV}, nil
	case tokTrue:
		return Literal{Kind: LitBool, Bool: true}, nil
	case tokFalse:
		return Literal{Kind: LitBool, Bool: false}, nil
	case tokNull:
		return Literal{Kind: LitNull}, nil
	}
	return Literal{}, fmt.Errorf("%w: expected literal, got %s", graph.ErrInvalidArgument, tok)
}

func (p *parser) parseWhere() (*WhereClause, error) {
	if err := p.expect(tokWhere, "WHERE"); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &WhereClause{Expr: expr}, nil
}

func (p *parser) parseWith() (*WithClause, error) {
	if err := p.expect(tokWith, "WITH"); err != nil {
		return nil, err
	}
	var items []WithItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		// WITH requires an explicit alias.
		if err := p.expect(tokAs, "AS"); err != nil {
			return nil, err
		}
		aliasTok := p.advance()
		if aliasTok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected alias after AS", graph.ErrInvalidArgument)
		}
		items = append(items, WithItem{Expr: expr, Alias: aliasTok.text})
		if p.peek().kind == tokComma {
			p.advance()
		} else {
			break
		}
	}
	return &WithClause{Items: items}, nil
}

func (p *parser) parseReturn() (*ReturnClause, error) {
	if err := p.expect(tokReturn, "RETURN"); err != nil {
		return nil, err
	}
	var items []ReturnItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := ReturnItem{Expr: expr}
		if p.peek().kind == tokAs {
			p.advance()
			aliasTok := p.advance()
			if aliasTok.kind != tokIdent {
				return nil, fmt.Errorf("%w: expected alias after AS", graph.ErrInvalidArgument)
			}
			item.Alias = aliasTok.text
		}
		items = append(items, item)
		if p.peek().kind == tokComma {
			p.advance()
		} else {
			break
		}
	}
	return &ReturnClause{Items: items}, nil
}

func (p *parser) parseOrderBy() (*OrderByClause, error) {
	if err := p.expect(tokOrder, "ORDER"); err != nil {
		return nil, err
	}
	if err := p.expect(tokBy, "BY"); err != nil {
		return nil, err
	}
	var items []OrderByItem
	for {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		item := OrderByItem{Expr: expr}
		switch p.peek().kind {
		case tokDesc:
			p.advance()
			item.Descending = true
		case tokAsc:
			p.advance()
		}
		items = append(items, item)
		if p.peek().kind == tokComma {
			p.advance()
		} else {
			break
		}
	}
	return &OrderByClause{Items: items}, nil
}

// Expression grammar, lowest to highest precedence:
// OR -> AND -> comparison (incl. IS [NOT] NULL) -> additive ->
// multiplicative -> primary.

func (p *parser) parseExpr() (Expr, error) {
	return p.parseOrExpr()
}

func (p *parser) parseOrExpr() (Expr, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: OpOr, Right: right}
	}
	return left, nil
}

func (p *parser) parseAndExpr() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: OpAnd, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.peek().kind == tokIs {
		p.advance()
		negated := false
		if p.peek().kind == tokNot {
			p.advance()
			negated = true
		}
		if err := p.expect(tokNull, "NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: left, Negated: negated}, nil
	}

	var op BinOp
	switch p.peek().kind {
	case tokEq:
		op = OpEq
	case tokNe:
		op = OpNe
	case tokLt:
		op = OpLt
	case tokLe:
		op = OpLe
	case tokGt:
		op = OpGt
	case tokGe:
		op = OpGe
	default:
		return left, nil
	}
	p.advance()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: left, Op: op, Right: right}, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.peek().kind {
		case tokPlus:
			op = OpAdd
		case tokMinus:
			op = OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.peek().kind {
		case tokStar:
			op = OpMul
		case tokSlash:
			op = OpDiv
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	switch tok := p.peek(); tok.kind {
	case tokDollar:
		p.advance()
		nameTok := p.advance()
		if nameTok.kind != tokIdent {
			return nil, fmt.Errorf("%w: expected parameter name after $", graph.ErrInvalidArgument)
		}
		return &ParameterExpr{Name: nameTok.text}, nil

	case tokIdent:
		p.advance()
		name := tok.text

		if p.peek().kind == tokLParen {
			if agg, ok := aggFuncNamed(name); ok {
				p.advance() // (
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if err := p.expect(tokRParen, ")"); err != nil {
					return nil, err
				}
				return &AggregateExpr{Func: agg, Arg: arg}, nil
			}
			p.advance() // (
			var args []Expr
			if p.peek().kind != tokRParen {
				for {
					arg, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.peek().kind == tokComma {
						p.advance()
					} else {
						break
					}
				}
			}
			if err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &FunctionExpr{Name: name, Args: args}, nil
		}

		if p.peek().kind == tokDot {
			p.advance()
			propTok := p.advance()
			if propTok.kind != tokIdent {
				return nil, fmt.Errorf("%w: expected property name", graph.ErrInvalidArgument)
			}
			return &PropertyExpr{Variable: name, Property: propTok.text}, nil
		}
		return &IdentExpr{Name: name}, nil

	case tokString, tokInt, tokFloat, tokTrue, tokFalse, tokNull:
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &LiteralExpr{Value: lit}, nil

	case tokNot:
		p.advance()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil

	case tokExists:
		p.advance()
		if err := p.expect(tokLBrace, "{"); err != nil {
			return nil, err
		}
		sub, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRBrace, "}"); err != nil {
			return nil, err
		}
		return &ExistsExpr{Subquery: sub}, nil

	case tokLParen:
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, fmt.Errorf("%w: unexpected token in expression: %s", graph.ErrInvalidArgument, p.peek())
}

func aggFuncNamed(name string) (AggFunc, bool) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return AggCount, true
	case "SUM":
		return AggSum, true
	case "AVG":
		return AggAvg, true
	case "MIN":
		return AggMin, true
	case "MAX":
		return AggMax, true
	}
	return 0, false
}
