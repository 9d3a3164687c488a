package gql

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/urddb/pkg/graph"
)

// Tuple is the unit of data flowing between operators: a mapping from
// binding key to value. Keys are bare variable names (node variables bind a
// node reference, edge variables an edge id) or `var.prop` paths bound to
// the property value.
type Tuple map[string]graph.Value

// Executor evaluates a plan tree against a graph store.
//
// The tree is walked recursively; every operator receives a parent tuple
// used for subquery correlation, which is how EXISTS sees the enclosing
// row's bindings without a global resolver. Queries run to completion; there
// are no suspension points inside an execution.
type Executor struct {
	read   graph.ReadStore
	params map[string]graph.Value
}

// NewExecutor creates an executor over a read store with optional bound
// parameters. read may be nil for pure CREATE queries, where the write
// store passed to Execute serves reads too.
func NewExecutor(read graph.ReadStore, params map[string]graph.Value) *Executor {
	if params == nil {
		params = map[string]graph.Value{}
	}
	return &Executor{read: read, params: params}
}

type execCounters struct {
	scanned  uint64
	expanded uint64
}

// Execute runs the plan and assembles the result table. write must be
// non-nil when the plan creates data.
func (e *Executor) Execute(plan PlanNode, write graph.WriteStore) (*Result, error) {
	start := time.Now()
	var counters execCounters
	tuples, err := e.executeNode(plan, Tuple{}, write, &counters)
	if err != nil {
		return nil, err
	}

	res := &Result{Rows: make([][]any, 0, len(tuples))}

	if names := projectionNames(plan); names != nil {
		for _, name := range names {
			res.Columns = append(res.Columns, ColumnMeta{Name: name, TypeTag: "any"})
		}
		for _, tuple := range tuples {
			row := make([]any, 0, len(names))
			for _, name := range names {
				row = append(row, tuple[name].ToJSON())
			}
			res.Rows = append(res.Rows, row)
		}
	} else if len(tuples) > 0 {
		// No projection in the plan: derive columns from the first tuple.
		keys := make([]string, 0, len(tuples[0]))
		for k := range tuples[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Columns = append(res.Columns, ColumnMeta{Name: k, TypeTag: "any"})
		}
		for _, tuple := range tuples {
			row := make([]any, 0, len(keys))
			for _, k := range keys {
				row = append(row, tuple[k].ToJSON())
			}
			res.Rows = append(res.Rows, row)
		}
	}

	res.Stats = &QueryStats{
		ElapsedMS: uint64(time.Since(start).Milliseconds()),
		Scanned:   counters.scanned,
		Expanded:  counters.expanded,
	}
	return res, nil
}

// projectionNames walks past OrderBy/Limit to the nearest Project and
// returns its output keys in order. Aggregate derives its own columns, so
// it yields nil and the caller uses the first row's keys in sorted order.
func projectionNames(plan PlanNode) []string {
	switch t := plan.(type) {
	case *Project:
		names := make([]string, 0, len(t.Items))
		for _, item := range t.Items {
			names = append(names, projectionKey(item))
		}
		return names
	case *OrderBy:
		return projectionNames(t.Input)
	case *Limit:
		return projectionNames(t.Input)
	}
	return nil
}

func projectionKey(item ReturnItem) string {
	if item.Alias != "" {
		return item.Alias
	}
	switch expr := item.Expr.(type) {
	case *IdentExpr:
		return expr.Name
	case *PropertyExpr:
		return expr.Variable + "." + expr.Property
	}
	return "?"
}

// reader returns the store used for reads, falling back to the write store
// for CREATE-only executions.
func (e *Executor) reader(write graph.WriteStore) graph.ReadStore {
	if e.read != nil {
		return e.read
	}
	if write != nil {
		return write
	}
	return nil
}

func (e *Executor) executeNode(node PlanNode, parent Tuple, write graph.WriteStore, counters *execCounters) ([]Tuple, error) {
	switch t := node.(type) {
	case *CreatePlan:
		if write == nil {
			return nil, fmt.Errorf("%w: CREATE requires a write-capable store", graph.ErrInvalidArgument)
		}
		return e.executeCreate(t.Patterns, parent, write)

	case *MatchCreate:
		matched, err := e.executeNode(t.MatchInput, parent, write, counters)
		if err != nil {
			return nil, err
		}
		if write == nil {
			return nil, fmt.Errorf("%w: CREATE requires a write-capable store", graph.ErrInvalidArgument)
		}
		var out []Tuple
		for _, tuple := range matched {
			created, err := e.executeCreate(t.CreatePatterns, tuple, write)
			if err != nil {
				return nil, err
			}
			out = append(out, created...)
		}
		return out, nil

	case *CartesianProduct:
		left, err := e.executeNode(t.Left, parent, write, counters)
		if err != nil {
			return nil, err
		}
		right, err := e.executeNode(t.Right, parent, write, counters)
		if err != nil {
			return nil, err
		}
		out := make([]Tuple, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				combined := l.clone()
				// Right values overwrite on collision; a correct plan never
				// produces one.
				for k, v := range r {
					combined[k] = v
				}
				out = append(out, combined)
			}
		}
		return out, nil

	case *LabelScan:
		return e.executeScan(t.Variable, t.Label, parent, write, counters)

	case *FullScan:
		return e.executeScan(t.Variable, "", parent, write, counters)

	case *Filter:
		tuples, err := e.executeNode(t.Input, parent, write, counters)
		if err != nil {
			return nil, err
		}
		out := tuples[:0]
		for _, tuple := range tuples {
			// A predicate error drops the row rather than failing the
			// query, preserving tri-valued comparison semantics.
			v, err := e.evalExpr(t.Predicate, tuple, nil)
			if err == nil && v.Kind == graph.KindBool && v.Bool {
				out = append(out, tuple)
			}
		}
		return out, nil

	case *Project:
		tuples, err := e.executeNode(t.Input, parent, write, counters)
		if err != nil {
			return nil, err
		}
		out := make([]Tuple, 0, len(tuples))
		for _, tuple := range tuples {
			projected := Tuple{}
			for _, item := range t.Items {
				if v, err := e.evalExpr(item.Expr, tuple, nil); err == nil {
					projected[projectionKey(item)] = v
				}
			}
			out = append(out, projected)
		}
		return out, nil

	case *Aggregate:
		return e.executeAggregate(t, parent, write, counters)

	case *OrderBy:
		tuples, err := e.executeNode(t.Input, parent, write, counters)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(tuples, func(i, j int) bool {
			for _, item := range t.Items {
				a, errA := e.evalExpr(item.Expr, tuples[i], nil)
				b, errB := e.evalExpr(item.Expr, tuples[j], nil)
				if errA != nil || errB != nil {
					continue
				}
				cmp := compareForOrder(a, b)
				if cmp == 0 {
					continue
				}
				if item.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
		return tuples, nil

	case *Limit:
		tuples, err := e.executeNode(t.Input, parent, write, counters)
		if err != nil {
			return nil, err
		}
		if uint64(len(tuples)) > t.Count {
			tuples = tuples[:t.Count]
		}
		return tuples, nil

	case *Expand:
		return e.executeExpand(t, parent, write, counters)
	}
	return nil, fmt.Errorf("%w: unknown plan node %T", graph.ErrInvalidArgument, node)
}

// executeScan handles LabelScan (label != "") and FullScan (label == "").
//
// When the variable is already bound in the parent tuple, the scan
// short-circuits to at most one tuple, verifying the label still holds; this
// is what makes correlated EXISTS subqueries work.
func (e *Executor) executeScan(variable, label string, parent Tuple, write graph.WriteStore, counters *execCounters) ([]Tuple, error) {
	reader := e.reader(write)

	if existing, ok := parent[variable]; ok {
		if existing.Kind == graph.KindNodeRef && reader != nil {
			node, err := reader.GetNode(existing.NodeRef)
			if err != nil {
				return nil, err
			}
			if node != nil && (label == "" || node.HasLabel(label)) {
				tuple := parent.clone()
				bindNode(tuple, variable, node)
				return []Tuple{tuple}, nil
			}
		}
		return nil, nil
	}

	var nodes []*graph.Node
	var err error
	if reader != nil {
		if label != "" {
			nodes, err = reader.ScanByLabel(label)
		} else {
			nodes, err = reader.ScanAll()
		}
		if err != nil {
			return nil, err
		}
	}
	counters.scanned += uint64(len(nodes))

	out := make([]Tuple, 0, len(nodes))
	for _, node := range nodes {
		tuple := parent.clone()
		bindNode(tuple, variable, node)
		out = append(out, tuple)
	}
	return out, nil
}

func (e *Executor) executeExpand(t *Expand, parent Tuple, write graph.WriteStore, counters *execCounters) ([]Tuple, error) {
	inputTuples, err := e.executeNode(t.Input, parent, write, counters)
	if err != nil {
		return nil, err
	}
	reader := e.reader(write)
	if reader == nil {
		return nil, nil
	}
	edgeTypes := splitEdgeTypes(t.EdgeType)

	var out []Tuple
	for _, tuple := range inputTuples {
		fromVal, ok := tuple[t.FromVar]
		if !ok || fromVal.Kind != graph.KindNodeRef {
			continue
		}
		fromID := fromVal.NodeRef

		if t.Depth != nil {
			reachable, err := traverseVariableLength(reader, fromID, edgeTypes, t.Direction, t.Depth.Min, t.Depth.Max)
			if err != nil {
				return nil, err
			}
			counters.expanded += uint64(len(reachable))
			emitted := make(map[graph.NodeID]bool)
			for _, toNode := range reachable {
				if toNode.ID == fromID {
					continue
				}
				if emitted[toNode.ID] {
					continue
				}
				emitted[toNode.ID] = true
				// A to-var already bound to this same node is a
				// zero-information duplicate and the candidate is
				// dropped; a to-var bound to a different node is
				// rebound to the reached node.
				if existing, ok := tuple[t.ToVar]; ok && existing.Kind == graph.KindNodeRef && existing.NodeRef == toNode.ID {
					continue
				}
				next := tuple.clone()
				bindNode(next, t.ToVar, toNode)
				out = append(out, next)
			}
			continue
		}

		neighbors, err := neighborsByDirection(reader, fromID, t.Direction)
		if err != nil {
			return nil, err
		}
		if len(edgeTypes) > 0 {
			neighbors = filterNeighborTypes(neighbors, edgeTypes)
		}
		counters.expanded += uint64(len(neighbors))
		for _, nb := range neighbors {
			if existing, ok := tuple[t.ToVar]; ok && existing.Kind == graph.KindNodeRef && existing.NodeRef != nb.Node.ID {
				// Equijoin over a reused variable: only the already-bound
				// node survives.
				continue
			}
			next := tuple.clone()
			bindNode(next, t.ToVar, nb.Node)
			if t.EdgeVar != "" {
				next[t.EdgeVar] = graph.IntValue(int64(nb.Edge.ID))
				next[t.EdgeVar+".edge_type"] = graph.StringValue(nb.Edge.Type)
				for k, v := range nb.Edge.Properties {
					next[t.EdgeVar+"."+k] = v
				}
			}
			out = append(out, next)
		}
	}
	return out, nil
}

func (e *Executor) executeAggregate(t *Aggregate, parent Tuple, write graph.WriteStore, counters *execCounters) ([]Tuple, error) {
	tuples, err := e.executeNode(t.Input, parent, write, counters)
	if err != nil {
		return nil, err
	}

	if len(t.GroupBy) == 0 {
		result := Tuple{}
		for _, agg := range t.Aggregates {
			v, err := e.evalAggregate(agg.Expr, tuples)
			if err != nil {
				return nil, err
			}
			result[agg.Alias] = v
		}
		return []Tuple{result}, nil
	}

	// Group by a stable serialisation of the group-by values; groups emit
	// in first-seen order, which is deterministic because scans are.
	groups := make(map[string][]Tuple)
	var groupOrder []string
	for _, tuple := range tuples {
		var keyParts []string
		for _, expr := range t.GroupBy {
			v, err := e.evalExpr(expr, tuple, nil)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(v.ToJSON())
			if err != nil {
				encoded = []byte("null")
			}
			keyParts = append(keyParts, string(encoded))
		}
		key := strings.Join(keyParts, "\x1f")
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], tuple)
	}

	var out []Tuple
	for _, key := range groupOrder {
		groupTuples := groups[key]
		result := Tuple{}

		// Group columns come from the group's first tuple.
		first := groupTuples[0]
		for idx, expr := range t.GroupBy {
			v, err := e.evalExpr(expr, first, nil)
			if err != nil {
				return nil, err
			}
			var k string
			switch ge := expr.(type) {
			case *IdentExpr:
				k = ge.Name
			case *PropertyExpr:
				k = ge.Variable + "." + ge.Property
			default:
				k = fmt.Sprintf("group_%d", idx)
			}
			result[k] = v
		}

		for _, agg := range t.Aggregates {
			v, err := e.evalAggregate(agg.Expr, groupTuples)
			if err != nil {
				return nil, err
			}
			result[agg.Alias] = v
		}
		out = append(out, result)
	}
	return out, nil
}

func (t Tuple) clone() Tuple {
	out := make(Tuple, len(t)+4)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// bindNode binds a node variable and all of its `var.prop` projections.
func bindNode(tuple Tuple, variable string, node *graph.Node) {
	tuple[variable] = graph.NodeRefValue(node.ID)
	for k, v := range node.Properties {
		tuple[variable+"."+k] = v
	}
}

func splitEdgeTypes(union string) []string {
	if union == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(union, "|") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func filterNeighborTypes(neighbors []graph.Neighbor, types []string) []graph.Neighbor {
	out := neighbors[:0]
	for _, nb := range neighbors {
		for _, t := range types {
			if nb.Edge.Type == t {
				out = append(out, nb)
				break
			}
		}
	}
	return out
}

func neighborsByDirection(reader graph.ReadStore, id graph.NodeID, dir Direction) ([]graph.Neighbor, error) {
	switch dir {
	case DirectionRight:
		return reader.GetNeighbors(id, "")
	case DirectionLeft:
		return reader.GetNeighborsIncoming(id, "")
	default:
		out, err := reader.GetNeighbors(id, "")
		if err != nil {
			return nil, err
		}
		incoming, err := reader.GetNeighborsIncoming(id, "")
		if err != nil {
			return nil, err
		}
		return append(out, incoming...), nil
	}
}

// traverseVariableLength walks breadth-first from start through edges
// matching the type union and direction, up to maxDepth hops.
//
// The visited set is global to the traversal, not per-path: each reachable
// node is found once, at its shortest discovered depth. Nodes whose depth
// falls inside [minDepth, maxDepth] are returned; the origin never is.
func traverseVariableLength(reader graph.ReadStore, start graph.NodeID, edgeTypes []string, dir Direction, minDepth, maxDepth uint32) ([]*graph.Node, error) {
	var result []*graph.Node
	visited := map[graph.NodeID]bool{start: true}

	type queueItem struct {
		id    graph.NodeID
		depth uint32
	}
	queue := []queueItem{{id: start, depth: 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= maxDepth {
			continue
		}

		neighbors, err := neighborsByDirection(reader, item.id, dir)
		if err != nil {
			return nil, err
		}
		if len(edgeTypes) > 0 {
			neighbors = filterNeighborTypes(neighbors, edgeTypes)
		}

		for _, nb := range neighbors {
			if visited[nb.Node.ID] {
				continue
			}
			// Mark immediately so a node reached through two parents at
			// the same depth is still emitted once.
			visited[nb.Node.ID] = true
			nextDepth := item.depth + 1
			if nextDepth >= minDepth && nextDepth <= maxDepth && nb.Node.ID != start {
				result = append(result, nb.Node)
			}
			if nextDepth < maxDepth {
				queue = append(queue, queueItem{id: nb.Node.ID, depth: nextDepth})
			}
		}
	}
	return result, nil
}

func (e *Executor) executeCreate(patterns []Pattern, parent Tuple, write graph.WriteStore) ([]Tuple, error) {
	if write == nil {
		return nil, fmt.Errorf("%w: CREATE requires a write-capable store", graph.ErrInvalidArgument)
	}
	createdVars := make(map[string]graph.NodeID)
	resultTuple := parent.clone()

	// An endpoint resolves to a variable created earlier in this CREATE or
	// bound in the parent tuple; otherwise the endpoint's own pattern is
	// materialised as a fresh node.
	resolveEndpoint := func(node *NodePattern) (graph.NodeID, error) {
		if node.Variable != "" {
			if id, ok := createdVars[node.Variable]; ok {
				return id, nil
			}
			if v, ok := parent[node.Variable]; ok && v.Kind == graph.KindNodeRef {
				return v.NodeRef, nil
			}
		}
		props, err := literalProperties(node.Properties)
		if err != nil {
			return 0, err
		}
		id, err := write.AddNode(node.Labels, props)
		if err != nil {
			return 0, err
		}
		if node.Variable != "" {
			createdVars[node.Variable] = id
			resultTuple[node.Variable] = graph.NodeRefValue(id)
		}
		return id, nil
	}

	for _, pattern := range patterns {
		switch t := pattern.(type) {
		case *NodePattern:
			props, err := literalProperties(t.Properties)
			if err != nil {
				return nil, err
			}
			id, err := write.AddNode(t.Labels, props)
			if err != nil {
				return nil, err
			}
			if t.Variable != "" {
				createdVars[t.Variable] = id
				resultTuple[t.Variable] = graph.NodeRefValue(id)
			}

		case *EdgePattern:
			if t.EdgeType == "" {
				return nil, fmt.Errorf("%w: edge must have type", graph.ErrInvalidArgument)
			}
			fromID, err := resolveEndpoint(t.From)
			if err != nil {
				return nil, err
			}
			toID, err := resolveEndpoint(t.To)
			if err != nil {
				return nil, err
			}
			props, err := literalProperties(t.Properties)
			if err != nil {
				return nil, err
			}
			edgeID, err := write.AddEdge(fromID, toID, t.EdgeType, props)
			if err != nil {
				return nil, err
			}
			if t.Variable != "" {
				resultTuple[t.Variable] = graph.IntValue(int64(edgeID))
			}
		}
	}
	return []Tuple{resultTuple}, nil
}

func literalProperties(props map[string]Literal) (map[string]graph.Value, error) {
	out := make(map[string]graph.Value, len(props))
	for k, lit := range props {
		out[k] = literalValue(lit)
	}
	return out, nil
}

func literalValue(lit Literal) graph.Value {
	switch lit.Kind {
	case LitString:
		return graph.StringValue(lit.Str)
	case LitInt:
		return graph.IntValue(lit.Int)
	case LitFloat:
		return graph.FloatValue(lit.Float)
	case LitBool:
		return graph.BoolValue(lit.Bool)
	}
	return graph.Null()
}

// compareForOrder implements the ORDER BY comparison: ints as ints, floats
// as a partial order with NaN equal, strings lexicographically; any other
// pairing compares equal.
func compareForOrder(a, b graph.Value) int {
	switch {
	case a.Kind == graph.KindInt && b.Kind == graph.KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	case a.Kind == graph.KindFloat && b.Kind == graph.KindFloat:
		switch {
		case a.Float < b.Float:
			return -1
		case a.Float > b.Float:
			return 1
		}
		return 0
	case a.Kind == graph.KindString && b.Kind == graph.KindString:
		return strings.Compare(a.Str, b.Str)
	}
	return 0
}
