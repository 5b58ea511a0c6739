package dataflow

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
)

// Guard is a derived rule, not a stored object: an Attribute or Relation
// definition with a co-located Condition plus a SetValue or SetDo action.
// ID is the Condition event's id, which makes firing keys stable across
// re-extraction.
type Guard struct {
	ID        string
	Model     string
	Attribute string
	Condition string
	SetValue  string
	SetDo     string
	Default   any

	cond Expr
}

// ExtractGuards scans the schema events in the store and derives the
// guard set. Schema events carry the model name in Model and the field
// name in Base; a guard exists for every (model, field) that has both a
// Condition and an action. Guards whose condition does not compile are
// dropped with a warning rather than poisoning the whole set.
func ExtractGuards(s *store.GraphStore) []Guard {
	type slot struct {
		condition *event.Event
		setValue  *event.Event
		setDo     *event.Event
		defaultEv *event.Event
		declared  bool
	}
	slots := make(map[string]*slot)
	key := func(model, field string) string { return model + "\x00" + field }

	get := func(e *event.Event) *slot {
		k := key(e.Model, e.Base)
		sl, ok := slots[k]
		if !ok {
			sl = &slot{}
			slots[k] = sl
		}
		return sl
	}

	for _, e := range s.All() {
		switch e.Kind {
		case event.KindAttribute, event.KindRelation:
			get(e).declared = true
		case event.KindCondition:
			sl := get(e)
			if sl.condition == nil || e.Date.After(sl.condition.Date) {
				sl.condition = e
			}
		case event.KindSetValue:
			sl := get(e)
			if sl.setValue == nil || e.Date.After(sl.setValue.Date) {
				sl.setValue = e
			}
		case event.KindSetDo:
			sl := get(e)
			if sl.setDo == nil || e.Date.After(sl.setDo.Date) {
				sl.setDo = e
			}
		case event.KindDefault:
			sl := get(e)
			if sl.defaultEv == nil || e.Date.After(sl.defaultEv.Date) {
				sl.defaultEv = e
			}
		}
	}

	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var guards []Guard
	for _, k := range keys {
		sl := slots[k]
		if sl.condition == nil || (sl.setValue == nil && sl.setDo == nil) {
			continue
		}
		model, field, _ := strings.Cut(k, "\x00")
		g := Guard{
			ID:        sl.condition.ID,
			Model:     model,
			Attribute: field,
			Condition: asString(sl.condition.Value),
		}
		if sl.setValue != nil {
			g.SetValue = asString(sl.setValue.Value)
		}
		if sl.setDo != nil {
			g.SetDo = asString(sl.setDo.Value)
		}
		if sl.defaultEv != nil {
			g.Default = sl.defaultEv.Value
		}

		cond, err := ParseExpr(g.Condition)
		if err != nil {
			slog.Warn("dataflow: dropping guard with bad condition",
				"model", g.Model, "attribute", g.Attribute, "error", err)
			continue
		}
		g.cond = cond
		guards = append(guards, g)
	}
	return guards
}

// ActiveGuards filters the guard set down to the guards of the
// individual's model whose condition holds against its projected state.
func ActiveGuards(s *store.GraphStore, base string) []Guard {
	model := s.ModelOf(base)
	if model == "" {
		return nil
	}
	state := s.IndividualState(base)

	var active []Guard
	for _, g := range ExtractGuards(s) {
		if g.Model != model {
			continue
		}
		if Truthy(g.cond.Eval(state)) {
			active = append(active, g)
		}
	}
	return active
}

// --- SetDo call grammar ---

// doCall is a parsed SetDo action: CreateIndividual(Concept, nameExpr)
// or SetProperty(targetExpr, property, valueExpr).
type doCall struct {
	name string
	args []string
}

func parseDoCall(src string) (doCall, error) {
	src = strings.TrimSpace(src)
	open := strings.IndexByte(src, '(')
	if open < 0 || !strings.HasSuffix(src, ")") {
		return doCall{}, fmt.Errorf("malformed action %q: expected Name(args)", src)
	}
	name := strings.TrimSpace(src[:open])
	if name != "CreateIndividual" && name != "SetProperty" {
		return doCall{}, fmt.Errorf("unknown action %q", name)
	}

	args, err := splitArgs(src[open+1 : len(src)-1])
	if err != nil {
		return doCall{}, fmt.Errorf("malformed action %q: %w", src, err)
	}
	want := 2
	if name == "SetProperty" {
		want = 3
	}
	if len(args) != want {
		return doCall{}, fmt.Errorf("action %s takes %d arguments, got %d", name, want, len(args))
	}
	return doCall{name: name, args: args}, nil
}

// splitArgs splits on top-level commas, respecting parentheses and
// quoted strings.
func splitArgs(src string) ([]string, error) {
	var args []string
	depth := 0
	start := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(src[start:i]))
			start = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	if tail := strings.TrimSpace(src[start:]); tail != "" {
		args = append(args, tail)
	}
	return args, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
