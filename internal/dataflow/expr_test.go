package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_FieldAccess(t *testing.T) {
	state := map[string]any{
		"status": "open",
		"count":  float64(3),
		"owner":  map[string]any{"name": "ada"},
	}

	assert.Equal(t, "open", Evaluate("$.status", state))
	assert.Equal(t, float64(3), Evaluate("$.count", state))
	assert.Equal(t, "ada", Evaluate("$.owner.name", state))
	assert.Nil(t, Evaluate("$.missing", state))
	assert.Nil(t, Evaluate("$.status.nested", state), "projecting into a scalar yields nil, not a fault")
}

func TestExpr_Comparisons(t *testing.T) {
	state := map[string]any{"status": "open", "priority": float64(5), "done": false}

	cases := []struct {
		src  string
		want any
	}{
		{"$.status == 'open'", true},
		{"$.status != 'open'", false},
		{"$.priority > 3", true},
		{"$.priority >= 5", true},
		{"$.priority < 5", false},
		{"$.priority <= 4", false},
		{"$.done == false", true},
		{"$.missing == null", true},
		{"$.missing != null", false},
		{"3 == 3.0", true},
		{"'abc' < 'abd'", true},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.src, state))
		})
	}
}

func TestExpr_Logical(t *testing.T) {
	state := map[string]any{"a": true, "n": float64(2)}

	assert.Equal(t, true, Evaluate("$.a && $.n > 1", state))
	assert.Equal(t, false, Evaluate("$.a && $.n > 5", state))
	assert.Equal(t, true, Evaluate("$.a || $.n > 5", state))
	assert.Equal(t, false, Evaluate("!$.a", state))
	assert.Equal(t, true, Evaluate("!($.n > 5)", state))
}

func TestExpr_OperatorCallSugar(t *testing.T) {
	state := map[string]any{"status": "open", "priority": float64(5)}

	cases := []struct {
		src  string
		want any
	}{
		{"$EQ($.status, 'open')", true},
		{"$NE($.status, 'closed')", true},
		{"$GT($.priority, 3)", true},
		{"$LT($.priority, 3)", false},
		{"$GE($.priority, 5)", true},
		{"$LE($.priority, 5)", true},
		{"$AND($EQ($.status, 'open'), $GT($.priority, 3))", true},
		{"$OR($EQ($.status, 'closed'), $GT($.priority, 3))", true},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.src, state))
		})
	}
}

// Evaluation failures never fault; they yield nil, which conditions
// read as false.
func TestExpr_FailureYieldsNil(t *testing.T) {
	state := map[string]any{"status": "open"}

	assert.Nil(t, Evaluate("$.status > 3", state), "ordering a string against a number")
	assert.Nil(t, Evaluate("$.missing > 3", state))
	assert.False(t, Truthy(Evaluate("$.missing > 3", state)))
	assert.Nil(t, Evaluate("", state))
	assert.Nil(t, Evaluate("$.a ==", state), "parse failure")
}

func TestExpr_ParseErrors(t *testing.T) {
	for _, src := range []string{
		"$.a ==",
		"(($.a)",
		"$EQ($.a)",
		"'unterminated",
		"$.",
		"@bad",
		"frobnicate",
	} {
		_, err := ParseExpr(src)
		assert.Error(t, err, "src %q", src)
	}
}

func TestExpr_Precedence(t *testing.T) {
	state := map[string]any{"a": float64(1), "b": float64(2)}

	// && binds tighter than ||; comparisons bind tighter than both.
	e, err := ParseExpr("$.a == 1 || $.a == 2 && $.b == 99")
	require.NoError(t, err)
	assert.Equal(t, true, e.Eval(state))

	assert.Equal(t, true, Evaluate("-$.a == -1", state))
}

func TestExpr_CompileOnceEvalMany(t *testing.T) {
	e, err := ParseExpr("$.priority >= 3 && $.status == 'open'")
	require.NoError(t, err)

	assert.Equal(t, true, e.Eval(map[string]any{"priority": float64(4), "status": "open"}))
	assert.Equal(t, false, e.Eval(map[string]any{"priority": float64(1), "status": "open"}))
	assert.Equal(t, false, e.Eval(map[string]any{"priority": float64(4), "status": "done"}))
}
