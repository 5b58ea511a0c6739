package dataflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
	"github.com/wovenlog/weave/internal/testutil"
)

// taskSchema seeds a minimal ModelTask schema: a status attribute
// guarded by a priority condition, plus one task individual.
func taskSchema(t *testing.T) *store.GraphStore {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	s := store.New()

	events := []event.Event{
		testutil.NewEvent("m-task").Base("ModelTask").Kind(event.KindModel).
			Model(event.MetaModel).Date(clock.Next()).Build(),
		testutil.NewEvent("a-status").Base("status").Kind(event.KindAttribute).
			Value("Text").Model("ModelTask").Cause("m-task").Date(clock.Next()).Build(),
		testutil.NewEvent("g-status").Base("status").Kind(event.KindCondition).
			Value("$.priority >= 5").Model("ModelTask").Cause("a-status").Date(clock.Next()).Build(),
		testutil.NewEvent("sv-status").Base("status").Kind(event.KindSetValue).
			Value("'urgent'").Model("ModelTask").Cause("g-status").Date(clock.Next()).Build(),
		testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
			Model("Model task_1").Date(clock.Next()).Build(),
		testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
			Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build(),
	}
	for _, e := range events {
		_, _, err := s.Insert(context.Background(), e)
		require.NoError(t, err)
	}
	return s
}

func TestExtractGuards(t *testing.T) {
	s := taskSchema(t)

	guards := ExtractGuards(s)
	require.Len(t, guards, 1)

	g := guards[0]
	assert.Equal(t, "g-status", g.ID)
	assert.Equal(t, "ModelTask", g.Model)
	assert.Equal(t, "status", g.Attribute)
	assert.Equal(t, "$.priority >= 5", g.Condition)
	assert.Equal(t, "'urgent'", g.SetValue)
	assert.Empty(t, g.SetDo)
}

func TestExtractGuards_ConditionWithoutActionIgnored(t *testing.T) {
	s := store.New()
	_, _, err := s.Insert(context.Background(),
		testutil.NewEvent("g1").Base("status").Kind(event.KindCondition).
			Value("$.priority >= 5").Model("ModelTask").Build())
	require.NoError(t, err)

	assert.Empty(t, ExtractGuards(s))
}

func TestExtractGuards_BadConditionDropped(t *testing.T) {
	s := store.New()
	ctx := context.Background()
	for _, e := range []event.Event{
		testutil.NewEvent("g1").Base("status").Kind(event.KindCondition).
			Value("$.priority >=").Model("ModelTask").Build(),
		testutil.NewEvent("sv1").Base("status").Kind(event.KindSetValue).
			Value("'urgent'").Model("ModelTask").Cause("g1").Build(),
	} {
		_, _, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}

	assert.Empty(t, ExtractGuards(s), "unparseable condition must drop the guard, not fault")
}

func TestActiveGuards(t *testing.T) {
	s := taskSchema(t)
	ctx := context.Background()

	// Priority below the threshold: guard present but inactive.
	_, _, err := s.Insert(ctx, testutil.NewEvent("p1").Base("task_1").Kind("priority").
		Value(3).Model("ModelTask").Cause("sm").Build())
	require.NoError(t, err)
	assert.Empty(t, ActiveGuards(s, "task_1"))

	// Raising it activates the guard.
	_, _, err = s.Insert(ctx, testutil.NewEvent("p2").Base("task_1").Kind("priority").
		Value(7).Model("ModelTask").Cause("p1").Build())
	require.NoError(t, err)

	active := ActiveGuards(s, "task_1")
	require.Len(t, active, 1)
	assert.Equal(t, "g-status", active[0].ID)
}

func TestActiveGuards_UnknownBase(t *testing.T) {
	s := taskSchema(t)
	assert.Empty(t, ActiveGuards(s, "no_such_individual"))
}

func TestParseDoCall(t *testing.T) {
	call, err := parseDoCall("CreateIndividual(Project, $.name)")
	require.NoError(t, err)
	assert.Equal(t, "CreateIndividual", call.name)
	assert.Equal(t, []string{"Project", "$.name"}, call.args)

	call, err = parseDoCall("SetProperty($.id, 'reviewed', true)")
	require.NoError(t, err)
	assert.Equal(t, "SetProperty", call.name)
	assert.Equal(t, []string{"$.id", "'reviewed'", "true"}, call.args)

	// Nested calls and quoted commas must not split.
	call, err = parseDoCall("SetProperty($.id, 'note', $EQ($.status, 'a,b'))")
	require.NoError(t, err)
	assert.Equal(t, []string{"$.id", "'note'", "$EQ($.status, 'a,b')"}, call.args)
}

func TestParseDoCall_Errors(t *testing.T) {
	for _, src := range []string{
		"DropTable(users)",
		"CreateIndividual(Project)",
		"SetProperty($.id, 'x')",
		"CreateIndividual(Project, $.name",
		"no call at all",
	} {
		_, err := parseDoCall(src)
		assert.Error(t, err, "src %q", src)
	}
}
