package gql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/urddb/pkg/graph"
)

func kinds(tokens []token) []tokenKind {
	out := make([]tokenKind, len(tokens))
	for i, t := range tokens {
		out[i] = t.kind
	}
	return out
}

func TestTokenize(t *testing.T) {
	t.Run("keywords_are_case_insensitive", func(t *testing.T) {
		for _, input := range []string{"MATCH", "match", "MaTcH"} {
			tokens, err := tokenize(input)
			require.NoError(t, err)
			assert.Equal(t, []tokenKind{tokMatch, tokEOF}, kinds(tokens))
		}
	})

	t.Run("aggregate_names_stay_identifiers", func(t *testing.T) {
		tokens, err := tokenize("COUNT SUM AVG MIN MAX")
		require.NoError(t, err)
		assert.Equal(t, []tokenKind{tokIdent, tokIdent, tokIdent, tokIdent, tokIdent, tokEOF}, kinds(tokens))
	})

	t.Run("arrows_and_comparisons", func(t *testing.T) {
		tokens, err := tokenize("-> <- <= >= < > != =")
		require.NoError(t, err)
		assert.Equal(t, []tokenKind{
			tokArrow, tokLeftArrow, tokLe, tokGe, tokLt, tokGt, tokNe, tokEq, tokEOF,
		}, kinds(tokens))
	})

	t.Run("range_disambiguates_from_float", func(t *testing.T) {
		tokens, err := tokenize("1..5")
		require.NoError(t, err)
		require.Equal(t, []tokenKind{tokInt, tokDotDot, tokInt, tokEOF}, kinds(tokens))
		assert.Equal(t, int64(1), tokens[0].intV)
		assert.Equal(t, int64(5), tokens[2].intV)
	})

	t.Run("floats", func(t *testing.T) {
		tokens, err := tokenize("3.25")
		require.NoError(t, err)
		require.Equal(t, []tokenKind{tokFloat, tokEOF}, kinds(tokens))
		assert.Equal(t, 3.25, tokens[0].floatV)
	})

	t.Run("single_quoted_strings_take_characters_literally", func(t *testing.T) {
		tokens, err := tokenize(`'a\nb'`)
		require.NoError(t, err)
		require.Equal(t, tokString, tokens[0].kind)
		assert.Equal(t, `a\nb`, tokens[0].text)
	})

	t.Run("unterminated_string_errors", func(t *testing.T) {
		_, err := tokenize("'oops")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("bare_bang_errors", func(t *testing.T) {
		_, err := tokenize("a ! b")
		assert.ErrorIs(t, err, graph.ErrInvalidArgument)
	})

	t.Run("pattern_tokens", func(t *testing.T) {
		tokens, err := tokenize("(a:Person {x: 1})-[r:KNOWS|LIKES*1..2]->(b)")
		require.NoError(t, err)
		assert.Equal(t, []tokenKind{
			tokLParen, tokIdent, tokColon, tokIdent, tokLBrace, tokIdent, tokColon, tokInt, tokRBrace, tokRParen,
			tokMinus, tokLBracket, tokIdent, tokColon, tokIdent, tokPipe, tokIdent,
			tokStar, tokInt, tokDotDot, tokInt, tokRBracket, tokArrow,
			tokLParen, tokIdent, tokRParen, tokEOF,
		}, kinds(tokens))
	})
}
