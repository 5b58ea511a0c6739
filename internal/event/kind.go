package event

// Kind is the role of an event relative to its base. The structural kinds
// below form a closed set used by inference and validation; any other
// value is an open property name (the schema-extensible case).
type Kind string

// Structural kinds. These shape the graph itself and bypass restriction
// validation.
const (
	KindInstance   Kind = "Instance"
	KindModel      Kind = "Model"
	KindIndividual Kind = "Individual"
	KindSetModel   Kind = "SetModel"
	KindAttribute  Kind = "Attribute"
	KindRelation   Kind = "Relation"
	KindRole       Kind = "Role"
)

// Restriction kinds. These hang off Attribute/Relation definitions and
// declare field constraints.
const (
	KindRequired         Kind = "Required"
	KindDataType         Kind = "DataType"
	KindRange            Kind = "Range"
	KindSetRange         Kind = "SetRange"
	KindMultiple         Kind = "Multiple"
	KindUnique           Kind = "Unique"
	KindUniqueIdentifier Kind = "UniqueIdentifier"
	KindImmutable        Kind = "Immutable"
	KindValueCondition   Kind = "ValueCondition"
	KindDefault          Kind = "Default"
	KindPermission       Kind = "Permission"
	KindCondition        Kind = "Condition"
	KindSetValue         Kind = "SetValue"
	KindSetDo            Kind = "SetDo"
)

var structuralKinds = map[Kind]bool{
	KindInstance:   true,
	KindModel:      true,
	KindIndividual: true,
	KindSetModel:   true,
	KindAttribute:  true,
	KindRelation:   true,
	KindRole:       true,
}

var restrictionKinds = map[Kind]bool{
	KindRequired:         true,
	KindDataType:         true,
	KindRange:            true,
	KindSetRange:         true,
	KindMultiple:         true,
	KindUnique:           true,
	KindUniqueIdentifier: true,
	KindImmutable:        true,
	KindValueCondition:   true,
	KindDefault:          true,
	KindPermission:       true,
	KindCondition:        true,
	KindSetValue:         true,
	KindSetDo:            true,
}

// Structural reports whether k is one of the closed graph-shaping kinds.
func (k Kind) Structural() bool {
	return structuralKinds[k]
}

// Restriction reports whether k declares a schema field constraint.
func (k Kind) Restriction() bool {
	return restrictionKinds[k]
}

// Property reports whether k is an open property name, i.e. neither
// structural nor a restriction.
func (k Kind) Property() bool {
	return !k.Structural() && !k.Restriction()
}

// Declaration reports whether k declares schema rather than carrying
// per-base state: Model, Attribute and Relation definitions plus every
// restriction kind. Declarations for different models legitimately share
// a base (the field name), so they accumulate; all other kinds have one
// live value per (base, kind) and are subject to conflict resolution
// when replicas merge.
func (k Kind) Declaration() bool {
	if k.Restriction() {
		return true
	}
	switch k {
	case KindModel, KindAttribute, KindRelation:
		return true
	}
	return false
}

// DataType names accepted as a DataType restriction payload.
const (
	DataTypeNumeric  = "Numeric"
	DataTypeBoolean  = "Boolean"
	DataTypeText     = "Text"
	DataTypeDateTime = "DateTime"
	DataTypeEnumType = "EnumType"
)
