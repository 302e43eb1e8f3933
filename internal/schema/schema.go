package schema

// Schema is the executable type system handed to the executor. It is built
// once (from SDL or programmatically) and treated as immutable afterwards.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // all named types keyed by name
	Directives       map[string]*Directive
	Description      string
}

// GetQueryType returns the root query type (may be nil if absent).
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent).
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent).
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// GetType returns the named type or nil.
func (s *Schema) GetType(name string) *Type { return s.Types[name] }

// IsSubType reports whether objectType is a possible runtime type of the
// named abstract type. Exact name equality is handled by the caller; this
// checks interface implementation and union membership.
func (s *Schema) IsSubType(abstractName string, objectType *Type) bool {
	abstract := s.Types[abstractName]
	if abstract == nil || objectType == nil {
		return false
	}
	switch abstract.Kind {
	case TypeKindInterface:
		for _, iface := range objectType.Interfaces {
			if iface == abstractName {
				return true
			}
		}
	case TypeKindUnion:
		for _, name := range abstract.PossibleTypes {
			if name == objectType.Name {
				return true
			}
		}
	}
	return false
}

// PossibleTypes returns the concrete object type names of an abstract type.
func (s *Schema) PossibleTypes(abstractName string) []string {
	abstract := s.Types[abstractName]
	if abstract == nil {
		return nil
	}
	if abstract.Kind == TypeKindUnion {
		return abstract.PossibleTypes
	}
	if abstract.Kind != TypeKindInterface {
		return nil
	}
	var names []string
	for _, t := range s.Types {
		if t.Kind != TypeKindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			if iface == abstractName {
				names = append(names, t.Name)
				break
			}
		}
	}
	return names
}

// Type is a named GraphQL type (object, interface, union, scalar, enum, input).
type Type struct {
	Name           string
	Kind           TypeKind
	Description    string
	Fields         []*Field      // for OBJECT and INTERFACE
	Interfaces     []string      // for OBJECT and INTERFACE
	PossibleTypes  []string      // for UNION (interfaces derive theirs from Interfaces)
	EnumValues     []*EnumValue  // for ENUM
	InputFields    []*InputValue // for INPUT_OBJECT
	SpecifiedByURL *string
	OneOf          bool
}

// GetField returns the declared field with the given name or nil.
func (t *Type) GetField(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// HasEnumValue reports whether name is a declared value of an enum type.
func (t *Type) HasEnumValue(name string) bool {
	for _, v := range t.EnumValues {
		if v.Name == name {
			return true
		}
	}
	return false
}

// Field represents a field on an object or interface.
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	IsDeprecated      bool
	DeprecationReason string
}

// GetArgument returns the declared argument with the given name or nil.
func (f *Field) GetArgument(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// TypeKind is the closed set of named-type kinds.
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef references a possibly wrapped type.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // for LIST and NON_NULL
	Named  string   // for NAMED
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	return t != nil && t.Kind == TypeRefKindList
}

// Unwrap removes one layer of Non-Null or List wrapping.
func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

// GetNamedType returns the innermost named type.
func (t *TypeRef) GetNamedType() string {
	current := t
	for current != nil {
		if current.Named != "" {
			return current.Named
		}
		current = current.OfType
	}
	return ""
}

// String renders the reference in SDL notation, e.g. "[Item!]!".
func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindNamed:
		return t.Named
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	}
	return ""
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	HasDefault        bool
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// IsNonNull reports whether the type is wrapped with Non-Null.
func IsNonNull(t *TypeRef) bool { return t != nil && t.IsNonNull() }

// IsList reports whether the type's outermost wrapper is a list.
func IsList(t *TypeRef) bool { return t != nil && t.IsList() }

// Unwrap removes one layer of Non-Null or List wrapping and returns the inner type.
func Unwrap(t *TypeRef) *TypeRef { return t.Unwrap() }

// GetNamedType returns the innermost named type for the given reference.
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }
