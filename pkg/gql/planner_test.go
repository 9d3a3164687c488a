package gql

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPlan(t *testing.T, query string) PlanNode {
	t.Helper()
	q, err := Parse(query)
	require.NoError(t, err)
	plan, err := Plan(q)
	require.NoError(t, err)
	return plan
}

// unwrapFilters strips the Filter chain off a plan node, returning the
// innermost non-Filter node and the count of stripped filters.
func unwrapFilters(plan PlanNode) (PlanNode, int) {
	n := 0
	for {
		f, ok := plan.(*Filter)
		if !ok {
			return plan, n
		}
		plan = f.Input
		n++
	}
}

func TestPlanScans(t *testing.T) {
	t.Run("label_scan_for_labelled_node", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (p:Person) RETURN p")
		project, ok := plan.(*Project)
		require.True(t, ok)
		scan, ok := project.Input.(*LabelScan)
		require.True(t, ok)
		assert.Equal(t, "p", scan.Variable)
		assert.Equal(t, "Person", scan.Label)
	})

	t.Run("full_scan_for_bare_node", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (n) RETURN n")
		project := plan.(*Project)
		_, ok := project.Input.(*FullScan)
		assert.True(t, ok)
	})
}

func TestPlanInlineProperties(t *testing.T) {
	t.Run("lower_to_filter_plus_safety_net", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (u:User {name: 'A'}) RETURN u.name")
		project := plan.(*Project)
		inner, filters := unwrapFilters(project.Input)
		// One inline filter plus the global safety-net re-application.
		assert.Equal(t, 2, filters)
		scan, ok := inner.(*LabelScan)
		require.True(t, ok)
		assert.Equal(t, "User", scan.Label)
	})

	t.Run("multiple_properties_combine_with_and", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (u {a: 1, b: 2}) RETURN u")
		project := plan.(*Project)
		filter, ok := project.Input.(*Filter)
		require.True(t, ok)
		and, ok := filter.Predicate.(*BinaryExpr)
		require.True(t, ok)
		assert.Equal(t, OpAnd, and.Op)
	})
}

func TestPlanExpand(t *testing.T) {
	t.Run("single_edge", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a:Person)-[r:KNOWS]->(b) RETURN b")
		project := plan.(*Project)
		expand, ok := project.Input.(*Expand)
		require.True(t, ok)
		assert.Equal(t, "a", expand.FromVar)
		assert.Equal(t, "r", expand.EdgeVar)
		assert.Equal(t, "b", expand.ToVar)
		assert.Equal(t, "KNOWS", expand.EdgeType)
		assert.Equal(t, DirectionRight, expand.Direction)

		scan, ok := expand.Input.(*LabelScan)
		require.True(t, ok)
		assert.Equal(t, "a", scan.Variable)
	})

	t.Run("anonymous_to_node_synthesises_variable", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a)-[:X]->() RETURN a")
		project := plan.(*Project)
		expand := project.Input.(*Expand)
		assert.Equal(t, "__anon_to_1", expand.ToVar)
	})

	t.Run("chained_edges_nest_expands", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a)-[:X]->(b)-[:Y]->(c) RETURN c")
		project := plan.(*Project)
		outer, ok := project.Input.(*Expand)
		require.True(t, ok)
		assert.Equal(t, "c", outer.ToVar)
		inner, ok := outer.Input.(*Expand)
		require.True(t, ok)
		assert.Equal(t, "b", inner.ToVar)
	})

	t.Run("no_standalone_scan_for_node_reused_by_edge", func(t *testing.T) {
		// b appears both as the edge's to-node and as its own pattern
		// element; it must not introduce a second scan.
		plan := mustPlan(t, "MATCH (a)-[:X]->(b), (b)-[:Y]->(c) RETURN c")
		countScans := 0
		var walk func(PlanNode)
		walk = func(n PlanNode) {
			switch t := n.(type) {
			case *LabelScan:
				countScans++
			case *FullScan:
				countScans++
			case *Filter:
				walk(t.Input)
			case *Expand:
				walk(t.Input)
			case *Project:
				walk(t.Input)
			case *CartesianProduct:
				walk(t.Left)
				walk(t.Right)
			case *OrderBy:
				walk(t.Input)
			case *Limit:
				walk(t.Input)
			}
		}
		walk(plan)
		assert.Equal(t, 1, countScans, "reused binding must not rescan")
	})

	t.Run("varlen_min_one_gains_id_inequality_filter", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a)-[:L*1..3]->(b) RETURN b")
		project := plan.(*Project)
		filter, ok := project.Input.(*Filter)
		require.True(t, ok)
		neq, ok := filter.Predicate.(*BinaryExpr)
		require.True(t, ok)
		assert.Equal(t, OpNe, neq.Op)
		left, ok := neq.Left.(*FunctionExpr)
		require.True(t, ok)
		assert.Equal(t, "ID", left.Name)
	})

	t.Run("varlen_min_zero_has_no_inequality_filter", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a)-[:L*..3]->(b) RETURN b")
		project := plan.(*Project)
		_, ok := project.Input.(*Expand)
		assert.True(t, ok)
	})
}

func TestPlanCartesianProduct(t *testing.T) {
	plan := mustPlan(t, "MATCH (a:X), (b:Y) RETURN a, b")
	project := plan.(*Project)
	cp, ok := project.Input.(*CartesianProduct)
	require.True(t, ok)
	_, ok = cp.Left.(*LabelScan)
	assert.True(t, ok)
	_, ok = cp.Right.(*LabelScan)
	assert.True(t, ok)
}

func TestPlanClauses(t *testing.T) {
	t.Run("with_projects_aliases", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (n) WITH n.age AS age WHERE age > 10 RETURN age")
		project, ok := plan.(*Project)
		require.True(t, ok)
		filter, ok := project.Input.(*Filter)
		require.True(t, ok)
		inner, ok := filter.Input.(*Project)
		require.True(t, ok)
		assert.Equal(t, "age", inner.Items[0].Alias)
	})

	t.Run("aggregate_groups_by_non_aggregates", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (i:Item) RETURN i.kind, SUM(i.price)")
		agg, ok := plan.(*Aggregate)
		require.True(t, ok)
		require.Len(t, agg.GroupBy, 1)
		require.Len(t, agg.Aggregates, 1)
		assert.Equal(t, "sum", agg.Aggregates[0].Alias)
	})

	t.Run("aggregate_alias_defaults_to_function_name", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (i) RETURN COUNT(i)")
		agg := plan.(*Aggregate)
		assert.Equal(t, "count", agg.Aggregates[0].Alias)
	})

	t.Run("order_by_and_limit_wrap_projection", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (n) RETURN n.x ORDER BY n.x LIMIT 3")
		limit, ok := plan.(*Limit)
		require.True(t, ok)
		assert.Equal(t, uint64(3), limit.Count)
		orderBy, ok := limit.Input.(*OrderBy)
		require.True(t, ok)
		_, ok = orderBy.Input.(*Project)
		assert.True(t, ok)
	})

	t.Run("match_create_composes", func(t *testing.T) {
		plan := mustPlan(t, "MATCH (a:P) CREATE (a)-[:L]->(b:Q)")
		mc, ok := plan.(*MatchCreate)
		require.True(t, ok)
		_, ok = mc.MatchInput.(*LabelScan)
		assert.True(t, ok)
		require.Len(t, mc.CreatePatterns, 1)
	})
}

func TestPlanDeterminism(t *testing.T) {
	queries := []string{
		"MATCH (u:User {b: 2, a: 1, c: 3}) RETURN u.name",
		"MATCH (a:X)-[r:KNOWS|LIKES*1..4]->(b {k: 'v'}) WHERE a.n > 1 RETURN a, b ORDER BY a.n LIMIT 10",
		"MATCH (a:P) CREATE (a)-[:L]->(b:Q)",
	}
	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			first := mustPlan(t, query)
			for i := 0; i < 20; i++ {
				again := mustPlan(t, query)
				assert.True(t, reflect.DeepEqual(first, again), "plan must be deterministic")
			}
		})
	}
}
