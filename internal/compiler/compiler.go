// Package compiler turns CUE schema definitions into the seed events a
// store is bootstrapped with. Uses the CUE SDK's Go API directly (not a
// CLI subprocess).
//
// A definition file declares models, their attribute/relation fields
// with restrictions, and guards:
//
//	model: Task: {
//	    attributes: {
//	        status: {type: "Text", required: true, default: "open"}
//	        priority: {type: "Numeric", range: [1, 5]}
//	    }
//	    relations: {
//	        assignee: {target: "Person"}
//	    }
//	    guards: [{attribute: "done", condition: "$.status == 'closed'",
//	              setValue: "true"}]
//	}
package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"

	"github.com/wovenlog/weave/internal/event"
)

// Compiler emits seed events with deterministic, cause-linked ordering:
// model first, then each field's declaration and restrictions, then
// guards. Dates step monotonically so recency-based schema lookups see
// the declaration order.
type Compiler struct {
	ids   event.IDGenerator
	cur   time.Time
	actor string
}

type Option func(*Compiler)

func WithIDGenerator(g event.IDGenerator) Option {
	return func(c *Compiler) { c.ids = g }
}

func WithStartTime(t time.Time) Option {
	return func(c *Compiler) { c.cur = t }
}

func WithActor(actor string) Option {
	return func(c *Compiler) { c.actor = actor }
}

func New(opts ...Option) *Compiler {
	c := &Compiler{
		ids:   event.UUIDv7Generator{},
		cur:   time.Now().UTC(),
		actor: event.ActorSystem,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fieldTypes accepted as an attribute's type.
var fieldTypes = map[string]bool{
	event.DataTypeNumeric:  true,
	event.DataTypeBoolean:  true,
	event.DataTypeText:     true,
	event.DataTypeDateTime: true,
	event.DataTypeEnumType: true,
}

// Compile parses a CUE root value holding one or more model definitions
// and returns the seed events, cause-linked and ready for insertion.
func (c *Compiler) Compile(v cue.Value) ([]event.Event, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	modelsVal := v.LookupPath(cue.ParsePath("model"))
	if !modelsVal.Exists() {
		return nil, &CompileError{
			Field:   "model",
			Message: "at least one model is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var events []event.Event
	for iter.Next() {
		if err := c.compileModel(&events, iter.Label(), iter.Value()); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (c *Compiler) compileModel(events *[]event.Event, name string, v cue.Value) error {
	modelName := event.ModelPrefix + name
	modelID := c.emit(events, modelName, event.KindModel, name, event.MetaModel, event.RootID)

	// fieldIDs lets guards cause-link to the field they watch.
	fieldIDs := make(map[string]string)

	if attrs := v.LookupPath(cue.ParsePath("attributes")); attrs.Exists() {
		iter, err := attrs.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			id, err := c.compileAttribute(events, name, iter.Label(), iter.Value(), modelName, modelID)
			if err != nil {
				return err
			}
			fieldIDs[iter.Label()] = id
		}
	}

	if rels := v.LookupPath(cue.ParsePath("relations")); rels.Exists() {
		iter, err := rels.Fields()
		if err != nil {
			return formatCUEError(err)
		}
		for iter.Next() {
			id, err := c.compileRelation(events, name, iter.Label(), iter.Value(), modelName, modelID)
			if err != nil {
				return err
			}
			fieldIDs[iter.Label()] = id
		}
	}

	if guards := v.LookupPath(cue.ParsePath("guards")); guards.Exists() {
		iter, err := guards.List()
		if err != nil {
			return formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			if err := c.compileGuard(events, name, i, iter.Value(), modelName, modelID, fieldIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiler) compileAttribute(events *[]event.Event, model, field string, v cue.Value, modelName, modelID string) (string, error) {
	where := fmt.Sprintf("model.%s.attributes.%s", model, field)

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return "", &CompileError{
			Field:   where + ".type",
			Message: "attribute type is required",
			Pos:     v.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if !fieldTypes[typeName] {
		return "", &CompileError{
			Field:   where + ".type",
			Message: fmt.Sprintf("unknown type %q", typeName),
			Pos:     typeVal.Pos(),
		}
	}

	attrID := c.emit(events, field, event.KindAttribute, typeName, modelName, modelID)
	c.emit(events, field, event.KindDataType, typeName, modelName, attrID)

	if err := c.emitRestrictions(events, where, field, v, modelName, attrID); err != nil {
		return "", err
	}
	return attrID, nil
}

func (c *Compiler) compileRelation(events *[]event.Event, model, field string, v cue.Value, modelName, modelID string) (string, error) {
	where := fmt.Sprintf("model.%s.relations.%s", model, field)

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return "", &CompileError{
			Field:   where + ".target",
			Message: "relation target concept is required",
			Pos:     v.Pos(),
		}
	}
	target, err := targetVal.String()
	if err != nil {
		return "", formatCUEError(err)
	}

	relID := c.emit(events, field, event.KindRelation, target, modelName, modelID)
	// The target concept doubles as the relation's SetRange.
	c.emit(events, field, event.KindSetRange, target, modelName, relID)

	if err := c.emitRestrictions(events, where, field, v, modelName, relID); err != nil {
		return "", err
	}
	return relID, nil
}

// emitRestrictions handles the restriction keys shared by attributes and
// relations. Unknown keys are ignored; CUE already rejects typos when the
// definition file uses a schema package.
func (c *Compiler) emitRestrictions(events *[]event.Event, where, field string, v cue.Value, modelName, causeID string) error {
	flags := []struct {
		key  string
		kind event.Kind
	}{
		{"required", event.KindRequired},
		{"multiple", event.KindMultiple},
		{"unique", event.KindUnique},
		{"uniqueIdentifier", event.KindUniqueIdentifier},
		{"immutable", event.KindImmutable},
	}
	for _, f := range flags {
		fv := v.LookupPath(cue.ParsePath(f.key))
		if !fv.Exists() {
			continue
		}
		on, err := fv.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		if on {
			c.emit(events, field, f.kind, true, modelName, causeID)
		}
	}

	values := []struct {
		key  string
		kind event.Kind
	}{
		{"default", event.KindDefault},
		{"range", event.KindRange},
		{"set", event.KindSetRange},
		{"permission", event.KindPermission},
	}
	for _, val := range values {
		fv := v.LookupPath(cue.ParsePath(val.key))
		if !fv.Exists() {
			continue
		}
		var payload any
		if err := fv.Decode(&payload); err != nil {
			return formatCUEError(err)
		}
		c.emit(events, field, val.kind, payload, modelName, causeID)
	}

	if cond := v.LookupPath(cue.ParsePath("condition")); cond.Exists() {
		expr, err := cond.String()
		if err != nil {
			return formatCUEError(err)
		}
		c.emit(events, field, event.KindValueCondition, expr, modelName, causeID)
	}
	return nil
}

func (c *Compiler) compileGuard(events *[]event.Event, model string, idx int, v cue.Value, modelName, modelID string, fieldIDs map[string]string) error {
	where := fmt.Sprintf("model.%s.guards[%d]", model, idx)

	attrVal := v.LookupPath(cue.ParsePath("attribute"))
	if !attrVal.Exists() {
		return &CompileError{
			Field:   where + ".attribute",
			Message: "guard attribute is required",
			Pos:     v.Pos(),
		}
	}
	attribute, err := attrVal.String()
	if err != nil {
		return formatCUEError(err)
	}

	condVal := v.LookupPath(cue.ParsePath("condition"))
	if !condVal.Exists() {
		return &CompileError{
			Field:   where + ".condition",
			Message: "guard condition is required",
			Pos:     v.Pos(),
		}
	}
	condition, err := condVal.String()
	if err != nil {
		return formatCUEError(err)
	}

	setValueVal := v.LookupPath(cue.ParsePath("setValue"))
	setDoVal := v.LookupPath(cue.ParsePath("setDo"))
	if setValueVal.Exists() == setDoVal.Exists() {
		return &CompileError{
			Field:   where,
			Message: "guard needs exactly one of setValue or setDo",
			Pos:     v.Pos(),
		}
	}

	// Guards on undeclared (derived) attributes hang off the model.
	cause := fieldIDs[attribute]
	if cause == "" {
		cause = modelID
	}

	condID := c.emit(events, attribute, event.KindCondition, condition, modelName, cause)

	if setValueVal.Exists() {
		expr, err := setValueVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		c.emit(events, attribute, event.KindSetValue, expr, modelName, condID)
	} else {
		call, err := setDoVal.String()
		if err != nil {
			return formatCUEError(err)
		}
		c.emit(events, attribute, event.KindSetDo, call, modelName, condID)
	}

	if defVal := v.LookupPath(cue.ParsePath("default")); defVal.Exists() {
		var payload any
		if err := defVal.Decode(&payload); err != nil {
			return formatCUEError(err)
		}
		c.emit(events, attribute, event.KindDefault, payload, modelName, condID)
	}
	return nil
}

// emit appends one seed event and returns its id.
func (c *Compiler) emit(events *[]event.Event, base string, kind event.Kind, value any, model, cause string) string {
	id := c.ids.NewID()
	*events = append(*events, event.Event{
		ID:    id,
		Base:  base,
		Kind:  kind,
		Value: value,
		Model: model,
		Cause: []string{cause},
		Actor: c.actor,
		Date:  c.cur,
	})
	c.cur = c.cur.Add(time.Millisecond)
	return id
}
