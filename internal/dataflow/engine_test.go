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

func newEngine(s *store.GraphStore) *Engine {
	clock := testutil.NewDeterministicClock()
	return New(s,
		WithIDGenerator(event.NewFixedGenerator("gen-1", "gen-2", "gen-3", "gen-4", "gen-5", "gen-6", "gen-7", "gen-8")),
		WithActor("system"),
		WithClock(clock.Next),
	)
}

func setPriority(t *testing.T, s *store.GraphStore, id string, value int, cause string) {
	t.Helper()
	_, _, err := s.Insert(context.Background(),
		testutil.NewEvent(id).Base("task_1").Kind("priority").
			Value(value).Model("ModelTask").Cause(cause).Build())
	require.NoError(t, err)
}

func TestStep_SetValueFiresOnce(t *testing.T) {
	ctx := context.Background()
	s := taskSchema(t)
	setPriority(t, s, "p1", 7, "sm")
	en := newEngine(s)

	generated, err := en.Step(ctx, "task_1")
	require.NoError(t, err)
	require.Len(t, generated, 1)

	derived := generated[0]
	assert.Equal(t, "task_1", derived.Base)
	assert.Equal(t, event.Kind("status"), derived.Kind)
	assert.Equal(t, "urgent", derived.Value)
	assert.Equal(t, "ModelTask", derived.Model)
	assert.Equal(t, []string{"g-status"}, derived.Cause, "derived event must cite its trigger")

	// Attribute now set: the guard must not fire again.
	generated, err = en.Step(ctx, "task_1")
	require.NoError(t, err)
	assert.Empty(t, generated)
}

func TestStep_InactiveGuardDerivesNothing(t *testing.T) {
	ctx := context.Background()
	s := taskSchema(t)
	setPriority(t, s, "p1", 2, "sm")
	en := newEngine(s)

	generated, err := en.Step(ctx, "task_1")
	require.NoError(t, err)
	assert.Empty(t, generated)
}

func TestStep_NullExpressionFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()
	s := store.New()

	events := []event.Event{
		testutil.NewEvent("g1").Base("owner").Kind(event.KindCondition).
			Value("$.priority >= 1").Model("ModelTask").Date(clock.Next()).Build(),
		testutil.NewEvent("sv1").Base("owner").Kind(event.KindSetValue).
			Value("$.assignee").Model("ModelTask").Cause("g1").Date(clock.Next()).Build(),
		testutil.NewEvent("d1").Base("owner").Kind(event.KindDefault).
			Value("unassigned").Model("ModelTask").Cause("g1").Date(clock.Next()).Build(),
		testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
			Model("Model task_1").Date(clock.Next()).Build(),
		testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
			Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build(),
		testutil.NewEvent("p1").Base("task_1").Kind("priority").
			Value(4).Model("ModelTask").Cause("sm").Date(clock.Next()).Build(),
	}
	for _, e := range events {
		_, _, err := s.Insert(context.Background(), e)
		require.NoError(t, err)
	}

	en := newEngine(s)
	generated, err := en.Step(ctx, "task_1")
	require.NoError(t, err)
	require.Len(t, generated, 1)
	assert.Equal(t, "unassigned", generated[0].Value, "$.assignee is unset, so the Default applies")
}

func TestStep_SetDoCreateIndividual(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()
	s := store.New()

	events := []event.Event{
		testutil.NewEvent("g1").Base("project").Kind(event.KindCondition).
			Value("$.status == 'approved'").Model("ModelTask").Date(clock.Next()).Build(),
		testutil.NewEvent("do1").Base("project").Kind(event.KindSetDo).
			Value("CreateIndividual(Project, $.project_name)").Model("ModelTask").Cause("g1").Date(clock.Next()).Build(),
		testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
			Model("Model task_1").Date(clock.Next()).Build(),
		testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
			Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build(),
		testutil.NewEvent("st").Base("task_1").Kind("status").
			Value("approved").Model("ModelTask").Cause("sm").Date(clock.Next()).Build(),
		testutil.NewEvent("pn").Base("task_1").Kind("project_name").
			Value("proj_1").Model("ModelTask").Cause("st").Date(clock.Next()).Build(),
	}
	for _, e := range events {
		_, _, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}

	en := newEngine(s)
	report, err := en.ExecuteToFixpoint(ctx, "task_1")
	require.NoError(t, err)
	assert.True(t, report.Stabilized)
	assert.Equal(t, 2, report.Generated, "Individual plus SetModel")

	ind := s.Latest("proj_1", event.KindIndividual)
	require.NotNil(t, ind)
	assert.Equal(t, "Model Project", s.ModelOf("proj_1"))
}

func TestStep_SetDoSetProperty(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()
	s := store.New()

	events := []event.Event{
		testutil.NewEvent("g1").Base("review").Kind(event.KindCondition).
			Value("$.status == 'done'").Model("ModelTask").Date(clock.Next()).Build(),
		testutil.NewEvent("do1").Base("review").Kind(event.KindSetDo).
			Value("SetProperty($.id, reviewed, true)").Model("ModelTask").Cause("g1").Date(clock.Next()).Build(),
		testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
			Model("Model task_1").Date(clock.Next()).Build(),
		testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
			Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build(),
		testutil.NewEvent("st").Base("task_1").Kind("status").
			Value("done").Model("ModelTask").Cause("sm").Date(clock.Next()).Build(),
	}
	for _, e := range events {
		_, _, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}

	en := newEngine(s)
	report, err := en.ExecuteToFixpoint(ctx, "task_1")
	require.NoError(t, err)
	assert.True(t, report.Stabilized)

	reviewed := s.Latest("task_1", "reviewed")
	require.NotNil(t, reviewed)
	assert.Equal(t, true, reviewed.Value)
	assert.Equal(t, "ModelTask", reviewed.Model)
}

// Cascade: setting status makes a second guard active in the next
// iteration, so the fixpoint needs three steps: derive status, derive
// the flag, observe quiescence.
func TestExecuteToFixpoint_Cascade(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()
	s := taskSchema(t)

	extra := []event.Event{
		testutil.NewEvent("g-flag").Base("flagged").Kind(event.KindCondition).
			Value("$.status == 'urgent'").Model("ModelTask").Date(clock.Next()).Build(),
		testutil.NewEvent("sv-flag").Base("flagged").Kind(event.KindSetValue).
			Value("true").Model("ModelTask").Cause("g-flag").Date(clock.Next()).Build(),
	}
	for _, e := range extra {
		_, _, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}
	setPriority(t, s, "p1", 9, "sm")

	en := newEngine(s)
	report, err := en.ExecuteToFixpoint(ctx, "task_1")
	require.NoError(t, err)

	assert.True(t, report.Stabilized)
	assert.Equal(t, 3, report.Iterations)
	assert.Equal(t, 2, report.Generated)
	assert.Equal(t, "urgent", s.Latest("task_1", "status").Value)
	assert.Equal(t, true, s.Latest("task_1", "flagged").Value)

	// Quiescent store: another run derives nothing.
	report, err = en.ExecuteToFixpoint(ctx, "task_1")
	require.NoError(t, err)
	assert.True(t, report.Stabilized)
	assert.Equal(t, 0, report.Generated)
}

func TestExecuteToFixpoint_BoundedIterations(t *testing.T) {
	s := taskSchema(t)
	en := newEngine(s)

	report, err := en.ExecuteToFixpoint(context.Background(), "task_1")
	require.NoError(t, err)
	assert.LessOrEqual(t, report.Iterations, MaxIterations)
}
