// Package schema validates candidate events against the restriction
// declarations of their model. The validator reports; it never blocks
// an insert. Callers decide what to do with the findings, and the
// repair workflow keys off the AutoFixable flag.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wovenlog/weave/internal/dataflow"
	"github.com/wovenlog/weave/internal/event"
	"github.com/wovenlog/weave/internal/store"
)

// Code is a stable, machine-readable failure code.
type Code string

const (
	CodeRequiredMissing  Code = "REQUIRED_MISSING"
	CodeTypeMismatch     Code = "TYPE_MISMATCH"
	CodeRangeViolation   Code = "RANGE_VIOLATION"
	CodeCardinality      Code = "CARDINALITY"
	CodeUniqueViolation  Code = "UNIQUE_VIOLATION"
	CodeImmutableWrite   Code = "IMMUTABLE_WRITE"
	CodeConditionFailed  Code = "CONDITION_FAILED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
)

// FieldError is one validation finding. AutoFixable marks failures with
// exactly one deterministic resolution (for example a declared Default);
// everything else carries Suggestions for an external resolver.
type FieldError struct {
	Code        Code   `json:"code"`
	Field       string `json:"field"`
	Message     string `json:"message"`
	AutoFixable bool   `json:"auto_fixable"`
	Suggestions []any  `json:"suggestions,omitempty"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s on %q: %s", e.Code, e.Field, e.Message)
}

// Result is the outcome of validating one candidate.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// actors that bypass Permission allow-lists.
var adminActors = map[string]bool{
	event.ActorSystem: true,
	"admin":           true,
	"genesis":         true,
}

// Validate checks a candidate property event against the restrictions
// its model declares for that field. Structural kinds, restriction
// declarations themselves, genesis rows and system actors pass through
// untouched.
func Validate(s *store.GraphStore, e event.Event) Result {
	if bypass(e) {
		return Result{Valid: true}
	}

	model := e.Model
	if model == "" {
		model = s.ModelOf(e.Base)
	}
	field := string(e.Kind)
	rs := restrictionsFor(s, model, field)
	if len(rs) == 0 {
		return Result{Valid: true}
	}

	var errs []FieldError
	if r, ok := rs[event.KindRequired]; ok && restrictionOn(r) {
		errs = append(errs, checkRequired(rs, field, e.Value)...)
	}
	if e.Value != nil {
		if r, ok := rs[event.KindDataType]; ok {
			errs = append(errs, checkDataType(rs, r, field, e.Value)...)
		}
		if r, ok := rs[event.KindRange]; ok {
			errs = append(errs, checkRange(r, field, e.Value)...)
		}
		// An EnumType's SetRange is consumed by the DataType check.
		if r, ok := rs[event.KindSetRange]; ok && !isEnumType(rs) {
			errs = append(errs, checkSetRange(s, r, field, e.Value)...)
		}
		if _, multiple := rs[event.KindMultiple]; !multiple {
			errs = append(errs, checkCardinality(field, e.Value)...)
		}
		if r, ok := rs[event.KindUnique]; ok && restrictionOn(r) {
			errs = append(errs, checkUnique(s, e, field, model, false)...)
		}
		if r, ok := rs[event.KindUniqueIdentifier]; ok && restrictionOn(r) {
			errs = append(errs, checkUnique(s, e, field, model, true)...)
		}
	}
	if r, ok := rs[event.KindImmutable]; ok && restrictionOn(r) {
		errs = append(errs, checkImmutable(s, e, field)...)
	}
	if r, ok := rs[event.KindValueCondition]; ok {
		errs = append(errs, checkValueCondition(s, r, e, field)...)
	}
	if r, ok := rs[event.KindPermission]; ok {
		errs = append(errs, checkPermission(r, e, field)...)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// DefaultFor returns the declared Default value for (model, field).
func DefaultFor(s *store.GraphStore, model, field string) (any, bool) {
	rs := restrictionsFor(s, model, field)
	if r, ok := rs[event.KindDefault]; ok {
		return r.Value, true
	}
	return nil, false
}

func bypass(e event.Event) bool {
	if e.Kind.Structural() || e.Kind.Restriction() {
		return true
	}
	if event.IsGenesis(e.ID) {
		return true
	}
	return e.Actor == event.ActorSystem || e.Actor == "genesis"
}

// restrictionsFor collects the restriction declarations for one field of
// one model, keeping the most recent declaration per restriction kind.
// Schema events carry the model name in Model and the field name in
// Base, the same convention the dataflow guard extraction uses.
func restrictionsFor(s *store.GraphStore, model, field string) map[event.Kind]*event.Event {
	if model == "" {
		return nil
	}
	out := make(map[event.Kind]*event.Event)
	for _, r := range s.ByBase(field) {
		if !r.Kind.Restriction() || r.Model != model {
			continue
		}
		if prev, ok := out[r.Kind]; !ok || r.Date.After(prev.Date) {
			out[r.Kind] = r
		}
	}
	return out
}

// restrictionOn treats a flag-style restriction as enabled unless its
// payload is explicitly false.
func restrictionOn(r *event.Event) bool {
	if b, ok := r.Value.(bool); ok {
		return b
	}
	return true
}

func checkRequired(rs map[event.Kind]*event.Event, field string, value any) []FieldError {
	if value != nil {
		return nil
	}
	fe := FieldError{
		Code:    CodeRequiredMissing,
		Field:   field,
		Message: "required field has no value",
	}
	if d, ok := rs[event.KindDefault]; ok {
		fe.AutoFixable = true
		fe.Suggestions = []any{d.Value}
		fe.Message = "required field has no value; a declared default applies"
	}
	return []FieldError{fe}
}

func checkDataType(rs map[event.Kind]*event.Event, r *event.Event, field string, value any) []FieldError {
	want, _ := r.Value.(string)
	ok := false
	switch want {
	case event.DataTypeNumeric:
		_, ok = toFloat(value)
	case event.DataTypeBoolean:
		_, ok = value.(bool)
	case event.DataTypeText:
		_, ok = value.(string)
	case event.DataTypeDateTime:
		ok = isDateTime(value)
	case event.DataTypeEnumType:
		ok = inEnum(rs, value)
	default:
		// Unknown datatype name: nothing to enforce.
		ok = true
	}
	if ok {
		return nil
	}
	fe := FieldError{
		Code:    CodeTypeMismatch,
		Field:   field,
		Message: fmt.Sprintf("value %v is not %s", value, want),
	}
	if want == event.DataTypeEnumType {
		if sr, has := rs[event.KindSetRange]; has {
			fe.Suggestions = asList(sr.Value)
		}
	}
	return []FieldError{fe}
}

func checkRange(r *event.Event, field string, value any) []FieldError {
	bounds := asList(r.Value)
	if len(bounds) != 2 {
		return nil
	}
	min, okMin := toFloat(bounds[0])
	max, okMax := toFloat(bounds[1])
	v, okV := toFloat(value)
	if !okMin || !okMax || !okV {
		return nil
	}
	if v >= min && v <= max {
		return nil
	}
	clamped := min
	if v > max {
		clamped = max
	}
	// Clamping is the single deterministic resolution, so this one is
	// auto-fixable.
	return []FieldError{{
		Code:        CodeRangeViolation,
		Field:       field,
		Message:     fmt.Sprintf("value %v outside [%v, %v]", value, bounds[0], bounds[1]),
		AutoFixable: true,
		Suggestions: []any{clamped},
	}}
}

// checkSetRange enforces either an enumerated value set (list payload)
// or, for Relations, the allowed target concept (string payload).
func checkSetRange(s *store.GraphStore, r *event.Event, field string, value any) []FieldError {
	if concept, ok := r.Value.(string); ok {
		target, isString := value.(string)
		wantModel := event.ModelPrefix + concept
		if isString && s.ModelOf(target) == wantModel {
			return nil
		}
		return []FieldError{{
			Code:    CodeRangeViolation,
			Field:   field,
			Message: fmt.Sprintf("value %v is not an individual of concept %q", value, concept),
		}}
	}

	allowed := asList(r.Value)
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if equalValues(a, value) {
			return nil
		}
	}
	return []FieldError{{
		Code:        CodeRangeViolation,
		Field:       field,
		Message:     fmt.Sprintf("value %v not in the allowed set", value),
		Suggestions: allowed,
	}}
}

func checkCardinality(field string, value any) []FieldError {
	elems := asList(value)
	if len(elems) <= 1 {
		return nil
	}
	return []FieldError{{
		Code:        CodeCardinality,
		Field:       field,
		Message:     fmt.Sprintf("field holds %d values but Multiple is not declared", len(elems)),
		Suggestions: elems,
	}}
}

func checkUnique(s *store.GraphStore, e event.Event, field, model string, global bool) []FieldError {
	var conflicts []any
	for _, other := range s.ByKind(e.Kind) {
		if other.Base == e.Base || other.ID == e.ID {
			continue
		}
		if !global && other.Model != model {
			continue
		}
		// Only the current value of the other individual counts; a
		// superseded historical value is no conflict.
		latest := s.Latest(other.Base, e.Kind)
		if latest == nil || latest.ID != other.ID {
			continue
		}
		if equalValues(other.Value, e.Value) {
			conflicts = append(conflicts, other.Base)
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	scope := "model"
	if global {
		scope = "store"
	}
	return []FieldError{{
		Code:        CodeUniqueViolation,
		Field:       field,
		Message:     fmt.Sprintf("value %v already used within the %s", e.Value, scope),
		Suggestions: conflicts,
	}}
}

func checkImmutable(s *store.GraphStore, e event.Event, field string) []FieldError {
	existing := s.Latest(e.Base, e.Kind)
	if existing == nil || existing.ID == e.ID {
		return nil
	}
	return []FieldError{{
		Code:        CodeImmutableWrite,
		Field:       field,
		Message:     fmt.Sprintf("field is immutable and already holds %v", existing.Value),
		Suggestions: []any{existing.Value},
	}}
}

func checkValueCondition(s *store.GraphStore, r *event.Event, e event.Event, field string) []FieldError {
	expr, _ := r.Value.(string)
	if expr == "" {
		return nil
	}
	state := s.IndividualState(e.Base)
	state[field] = e.Value

	if dataflow.Truthy(dataflow.Evaluate(expr, state)) {
		return nil
	}
	return []FieldError{{
		Code:    CodeConditionFailed,
		Field:   field,
		Message: fmt.Sprintf("value %v rejected by condition %q", e.Value, expr),
	}}
}

func checkPermission(r *event.Event, e event.Event, field string) []FieldError {
	if adminActors[e.Actor] {
		return nil
	}
	allowed := asList(r.Value)
	if a, ok := r.Value.(string); ok {
		allowed = []any{a}
	}
	for _, a := range allowed {
		if s, ok := a.(string); ok && s == e.Actor {
			return nil
		}
	}
	return []FieldError{{
		Code:        CodePermissionDenied,
		Field:       field,
		Message:     fmt.Sprintf("actor %q is not on the allow-list", e.Actor),
		Suggestions: allowed,
	}}
}

// --- helpers ---

func isEnumType(rs map[event.Kind]*event.Event) bool {
	r, ok := rs[event.KindDataType]
	if !ok {
		return false
	}
	want, _ := r.Value.(string)
	return want == event.DataTypeEnumType
}

func inEnum(rs map[event.Kind]*event.Event, value any) bool {
	sr, ok := rs[event.KindSetRange]
	if !ok {
		// EnumType with no declared set cannot be checked.
		return true
	}
	for _, a := range asList(sr.Value) {
		if equalValues(a, value) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isDateTime(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		_, err := time.Parse(time.RFC3339, t)
		return err == nil
	}
	return false
}

func asList(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return nil
}

func equalValues(a, b any) bool {
	ab, errA := event.MarshalCanonical(a)
	bb, errB := event.MarshalCanonical(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}
