package infer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
	"github.com/wovenlog/weave/internal/testutil"
)

func TestRebuild_RepairsModelsAndCauses(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	s := store.New()

	// A log with a wrong model and a dangling cause, as Reset allows.
	ind := testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
		Model("wrong").Date(clock.Next()).Build()
	sm := testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
		Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build()
	prop := testutil.NewEvent("prop").Base("task_1").Kind("Status").
		Value("open").Model("ModelTask").Cause("ghost").Date(clock.Next()).Build()
	s.Reset([]*event.Event{&ind, &sm, &prop})

	report, err := Rebuild(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Events)
	assert.GreaterOrEqual(t, report.ModelsFixed, 1, "wrong Individual model must be fixed")
	assert.GreaterOrEqual(t, report.CausesFixed, 1, "dangling cause must be recomputed")
	assert.Equal(t, 0, report.ChainsBroken)

	// The repaired property event anchors within the base's history.
	repaired := s.Get("prop")
	require.NotNil(t, repaired)
	assert.NotContains(t, repaired.Cause, "ghost")
	assert.NoError(t, s.ValidateChainToRoot("prop", 0))
	assert.Equal(t, "Model task_1", s.Get("ind").Model)
}

func TestRebuild_Idempotent(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	s := store.New()
	ind := testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
		Model("wrong").Date(clock.Next()).Build()
	prop := testutil.NewEvent("prop").Base("task_1").Kind("Status").
		Value("open").Cause("ghost").Date(clock.Next()).Build()
	s.Reset([]*event.Event{&ind, &prop})

	_, err := Rebuild(context.Background(), s)
	require.NoError(t, err)

	second, err := Rebuild(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ModelsFixed, "second run must find nothing to fix")
	assert.Equal(t, 0, second.CausesFixed)
	assert.Equal(t, 0, second.ChainsBroken)
}

func TestRebuild_PreservesValidGraph(t *testing.T) {
	clock := testutil.NewDeterministicClock()
	ctx := context.Background()
	s := store.New()

	events := []event.Event{
		testutil.NewEvent("ind").Base("task_1").Kind(event.KindIndividual).
			Model("Model task_1").Date(clock.Next()).Build(),
		testutil.NewEvent("sm").Base("task_1").Kind(event.KindSetModel).
			Value("ModelTask").Model("ModelTask").Cause("ind").Date(clock.Next()).Build(),
		testutil.NewEvent("s1").Base("task_1").Kind("Status").
			Value("open").Model("ModelTask").Cause("sm").Date(clock.Next()).Build(),
	}
	for _, e := range events {
		_, _, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}

	before := make(map[string][]string)
	for _, e := range s.All() {
		before[e.ID] = e.Cause
	}

	report, err := Rebuild(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CausesFixed)
	assert.Equal(t, 3, report.ChainsValid)

	for _, e := range s.All() {
		assert.Equal(t, before[e.ID], e.Cause, "cause of %s changed", e.ID)
	}
}

func TestRebuild_OrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := store.New()

	// Inserted out of order; the rebuild sorts by date, so the later
	// status event must anchor on the earlier one, not vice versa.
	late := testutil.NewEvent("late").Base("task_1").Kind("Status").Value("done").
		Actor("u1").Cause("x").Date(time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)).Build()
	early := testutil.NewEvent("early").Base("task_1").Kind("Status").Value("open").
		Actor("u1").Cause("x").Date(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)).Build()
	s.Reset([]*event.Event{&late, &early})

	_, err := Rebuild(ctx, s)
	require.NoError(t, err)

	assert.True(t, s.HappensBefore("early", "late"), "late must causally follow early after rebuild")
}
