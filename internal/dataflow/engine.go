package dataflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/metrics"
	"github.com/wovenlog/weave/internal/store"
)

// MaxIterations bounds the fixpoint loop. Guard sets are not statically
// guaranteed acyclic, so the loop needs a ceiling; hitting it is
// reported, not fatal.
const MaxIterations = 10

// Engine drives guard evaluation for individuals. Derived events are
// appended through the store's normal insert path, so they get the same
// integrity checks as any other write. Runs synchronously with respect
// to the write that triggers it.
type Engine struct {
	store  *store.GraphStore
	ids    event.IDGenerator
	actor  string
	now    func() time.Time
	logger *slog.Logger

	// fired keys prevent a guard from re-deriving the same event in a
	// later iteration or call.
	fired map[string]bool
}

type Option func(*Engine)

func WithIDGenerator(g event.IDGenerator) Option {
	return func(en *Engine) { en.ids = g }
}

func WithActor(actor string) Option {
	return func(en *Engine) { en.actor = actor }
}

func WithClock(now func() time.Time) Option {
	return func(en *Engine) { en.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

func New(s *store.GraphStore, opts ...Option) *Engine {
	en := &Engine{
		store:  s,
		ids:    event.UUIDv7Generator{},
		actor:  event.ActorSystem,
		now:    time.Now,
		logger: slog.Default(),
		fired:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// Report summarizes one fixpoint run.
type Report struct {
	Iterations int  `json:"iterations"`
	Generated  int  `json:"generated"`
	Stabilized bool `json:"stabilized"`
}

// ExecuteToFixpoint repeatedly steps the guards of one individual until
// a step derives nothing or MaxIterations is reached.
func (en *Engine) ExecuteToFixpoint(ctx context.Context, base string) (Report, error) {
	var report Report
	for report.Iterations < MaxIterations {
		report.Iterations++
		generated, err := en.Step(ctx, base)
		if err != nil {
			return report, err
		}
		report.Generated += len(generated)
		if len(generated) == 0 {
			report.Stabilized = true
			return report, nil
		}
	}
	en.logger.Warn("dataflow: fixpoint bound reached without stabilizing",
		"base", base, "iterations", report.Iterations, "generated", report.Generated)
	return report, nil
}

// Step evaluates the individual's active guards once and appends the
// derived events. A guard that fails to fire (bad action, rejected
// insert) is skipped with a warning; one broken rule must not wedge the
// rest of the schema.
func (en *Engine) Step(ctx context.Context, base string) ([]*event.Event, error) {
	state := en.store.IndividualState(base)
	var generated []*event.Event

	for _, g := range ActiveGuards(en.store, base) {
		var derived []*event.Event
		switch {
		case g.SetValue != "":
			derived = en.fireSetValue(ctx, g, base, state)
		case g.SetDo != "":
			derived = en.fireSetDo(ctx, g, base, state)
		}
		generated = append(generated, derived...)
	}
	return generated, nil
}

// fireSetValue derives a property event when the target attribute has
// no value yet. A null expression result falls back to the guard's
// default, and a null overall means no event at all.
func (en *Engine) fireSetValue(ctx context.Context, g Guard, base string, state map[string]any) []*event.Event {
	if en.store.Latest(base, event.Kind(g.Attribute)) != nil {
		return nil
	}
	value := Evaluate(g.SetValue, state)
	if value == nil {
		value = g.Default
	}
	if value == nil {
		return nil
	}

	key, err := event.FiringKey(g.ID, base, value)
	if err != nil {
		en.logger.Warn("dataflow: skipping guard with unhashable value",
			"model", g.Model, "attribute", g.Attribute, "error", err)
		return nil
	}
	if en.fired[key] {
		return nil
	}

	e := event.Event{
		ID:    en.ids.NewID(),
		Base:  base,
		Kind:  event.Kind(g.Attribute),
		Value: value,
		Model: g.Model,
		Cause: []string{g.ID},
		Actor: en.actor,
		Date:  en.now(),
	}
	stored := en.insert(ctx, g, e)
	if stored == nil {
		return nil
	}
	en.fired[key] = true
	return []*event.Event{stored}
}

// fireSetDo parses and runs the structured action call.
func (en *Engine) fireSetDo(ctx context.Context, g Guard, base string, state map[string]any) []*event.Event {
	call, err := parseDoCall(g.SetDo)
	if err != nil {
		en.logger.Warn("dataflow: skipping guard with bad action",
			"model", g.Model, "attribute", g.Attribute, "error", err)
		return nil
	}

	switch call.name {
	case "CreateIndividual":
		concept := asStringVal(evalArg(call.args[0], state))
		name := asStringVal(evalArg(call.args[1], state))
		if concept == "" || name == "" {
			return nil
		}

		key, err := event.FiringKey(g.ID, base, []any{"CreateIndividual", concept, name})
		if err != nil {
			en.logger.Warn("dataflow: skipping guard with unhashable action",
				"model", g.Model, "attribute", g.Attribute, "error", err)
			return nil
		}
		if en.fired[key] {
			return nil
		}

		ind := event.Event{
			ID:    en.ids.NewID(),
			Base:  name,
			Kind:  event.KindIndividual,
			Model: event.ModelPrefix + name,
			Cause: []string{g.ID},
			Actor: en.actor,
			Date:  en.now(),
		}
		storedInd := en.insert(ctx, g, ind)
		if storedInd == nil {
			return nil
		}
		en.fired[key] = true

		model := event.ModelPrefix + concept
		sm := event.Event{
			ID:    en.ids.NewID(),
			Base:  name,
			Kind:  event.KindSetModel,
			Value: model,
			Model: model,
			Cause: []string{storedInd.ID},
			Actor: en.actor,
			Date:  en.now(),
		}
		if storedSM := en.insert(ctx, g, sm); storedSM != nil {
			return []*event.Event{storedInd, storedSM}
		}
		return []*event.Event{storedInd}

	case "SetProperty":
		target := asStringVal(evalArg(call.args[0], state))
		property := asStringVal(evalArg(call.args[1], state))
		value := evalArg(call.args[2], state)
		if target == "" || property == "" || value == nil {
			return nil
		}

		key, err := event.FiringKey(g.ID, base, []any{"SetProperty", target, property, value})
		if err != nil {
			en.logger.Warn("dataflow: skipping guard with unhashable action",
				"model", g.Model, "attribute", g.Attribute, "error", err)
			return nil
		}
		if en.fired[key] {
			return nil
		}

		model := en.store.ModelOf(target)
		if model == "" {
			model = event.ModelPrefix + target
		}
		e := event.Event{
			ID:    en.ids.NewID(),
			Base:  target,
			Kind:  event.Kind(property),
			Value: value,
			Model: model,
			Cause: []string{g.ID},
			Actor: en.actor,
			Date:  en.now(),
		}
		stored := en.insert(ctx, g, e)
		if stored == nil {
			return nil
		}
		en.fired[key] = true
		return []*event.Event{stored}
	}
	return nil
}

func (en *Engine) insert(ctx context.Context, g Guard, e event.Event) *event.Event {
	stored, inserted, err := en.store.Insert(ctx, e)
	if err != nil {
		en.logger.Warn("dataflow: derived event rejected",
			"model", g.Model, "attribute", g.Attribute, "id", e.ID, "error", err)
		return nil
	}
	if !inserted {
		return nil
	}
	metrics.GuardFirings.Inc()
	return stored
}

// evalArg treats an action argument as an expression when it compiles,
// and as bare literal text (quotes stripped) when it does not. Bare
// concept and property names in action calls land on the second path.
func evalArg(src string, state map[string]any) any {
	if e, err := ParseExpr(src); err == nil {
		return e.Eval(state)
	}
	s := src
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return s
}

func asStringVal(v any) string {
	s, _ := v.(string)
	return s
}
