package schema

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/graphexec/internal/language"
)

// BuildSDL compiles SDL source into an executable Schema. Type extensions are
// merged into their base definitions and the built-in scalars and executor
// directives are always present.
func BuildSDL(name, source string) (*Schema, error) {
	doc, err := language.ParseSchema(name, source)
	if err != nil {
		return nil, err
	}
	return BuildDocument(doc)
}

// BuildDocument compiles an already parsed SDL document.
func BuildDocument(doc *language.SchemaDocument) (*Schema, error) {
	s := &Schema{
		Types:      map[string]*Type{},
		Directives: map[string]*Directive{},
	}
	for _, t := range []*Type{stringType, intType, floatType, booleanType, idType} {
		s.Types[t.Name] = t
	}
	for _, d := range []*Directive{includeDirective, skipDirective, deferDirective, streamDirective} {
		s.Directives[d.Name] = d
	}

	for _, def := range doc.Definitions {
		t, err := buildDefinition(def)
		if err != nil {
			return nil, err
		}
		if prev, ok := s.Types[t.Name]; ok && !isBuiltinType(prev) {
			return nil, fmt.Errorf("duplicate type %q", t.Name)
		}
		s.Types[t.Name] = t
	}
	for _, ext := range doc.Extensions {
		base := s.Types[ext.Name]
		if base == nil {
			return nil, fmt.Errorf("cannot extend unknown type %q", ext.Name)
		}
		t, err := buildDefinition(ext)
		if err != nil {
			return nil, err
		}
		mergeExtension(base, t)
	}
	for _, dd := range doc.Directives {
		s.Directives[dd.Name] = buildDirectiveDefinition(dd)
	}

	// Root operation types: explicit schema definition wins, otherwise the
	// conventional names apply when the types exist.
	roots := map[language.Operation]string{}
	for _, sd := range append(doc.Schema, doc.SchemaExtension...) {
		if sd.Description != "" {
			s.Description = sd.Description
		}
		for _, ot := range sd.OperationTypes {
			roots[ot.Operation] = ot.Type
		}
	}
	s.QueryType = rootName(s, roots, language.Query, "Query")
	s.MutationType = rootName(s, roots, language.Mutation, "Mutation")
	s.SubscriptionType = rootName(s, roots, language.Subscription, "Subscription")
	if s.QueryType == "" {
		return nil, fmt.Errorf("schema does not define a query root type")
	}
	return s, nil
}

func rootName(s *Schema, roots map[language.Operation]string, op language.Operation, conventional string) string {
	if name, ok := roots[op]; ok {
		return name
	}
	if _, ok := s.Types[conventional]; ok {
		return conventional
	}
	return ""
}

func buildDefinition(def *language.Definition) (*Type, error) {
	switch def.Kind {
	case language.Object, language.Interface:
		kind := TypeKindObject
		if def.Kind == language.Interface {
			kind = TypeKindInterface
		}
		t := &Type{Name: def.Name, Kind: kind, Description: def.Description}
		t.Interfaces = append(t.Interfaces, def.Interfaces...)
		for _, fd := range def.Fields {
			t.Fields = append(t.Fields, buildFieldDefinition(fd))
		}
		return t, nil
	case language.Union:
		t := &Type{Name: def.Name, Kind: TypeKindUnion, Description: def.Description}
		t.PossibleTypes = append(t.PossibleTypes, def.Types...)
		return t, nil
	case language.Enum:
		t := &Type{Name: def.Name, Kind: TypeKindEnum, Description: def.Description}
		for _, ev := range def.EnumValues {
			value := &EnumValue{Name: ev.Name, Description: ev.Description}
			value.IsDeprecated, value.DeprecationReason = deprecation(ev.Directives)
			t.EnumValues = append(t.EnumValues, value)
		}
		return t, nil
	case language.InputObject:
		t := &Type{Name: def.Name, Kind: TypeKindInputObject, Description: def.Description}
		for _, fd := range def.Fields {
			in := &InputValue{Name: fd.Name, Description: fd.Description, Type: buildTypeRef(fd.Type)}
			if fd.DefaultValue != nil {
				in.DefaultValue = valueToGo(fd.DefaultValue)
				in.HasDefault = true
			}
			in.IsDeprecated, in.DeprecationReason = deprecation(fd.Directives)
			t.InputFields = append(t.InputFields, in)
		}
		if d := def.Directives.ForName("oneOf"); d != nil {
			t.OneOf = true
		}
		return t, nil
	case language.Scalar:
		t := &Type{Name: def.Name, Kind: TypeKindScalar, Description: def.Description}
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				url := arg.Value.Raw
				t.SpecifiedByURL = &url
			}
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported definition kind %q for %q", def.Kind, def.Name)
	}
}

func buildFieldDefinition(fd *language.FieldDefinition) *Field {
	f := &Field{Name: fd.Name, Description: fd.Description, Type: buildTypeRef(fd.Type)}
	f.IsDeprecated, f.DeprecationReason = deprecation(fd.Directives)
	for _, ad := range fd.Arguments {
		in := &InputValue{Name: ad.Name, Description: ad.Description, Type: buildTypeRef(ad.Type)}
		if ad.DefaultValue != nil {
			in.DefaultValue = valueToGo(ad.DefaultValue)
			in.HasDefault = true
		}
		f.Arguments = append(f.Arguments, in)
	}
	return f
}

func buildDirectiveDefinition(dd *language.DirectiveDefinition) *Directive {
	d := &Directive{
		Name:         dd.Name,
		Description:  dd.Description,
		IsRepeatable: dd.IsRepeatable,
	}
	for _, loc := range dd.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, ad := range dd.Arguments {
		in := &InputValue{Name: ad.Name, Description: ad.Description, Type: buildTypeRef(ad.Type)}
		if ad.DefaultValue != nil {
			in.DefaultValue = valueToGo(ad.DefaultValue)
			in.HasDefault = true
		}
		d.Arguments = append(d.Arguments, in)
	}
	return d
}

func buildTypeRef(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		return NonNullType(buildTypeRef(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	return ListType(buildTypeRef(t.Elem))
}

func mergeExtension(base, ext *Type) {
	base.Fields = append(base.Fields, ext.Fields...)
	base.InputFields = append(base.InputFields, ext.InputFields...)
	base.EnumValues = append(base.EnumValues, ext.EnumValues...)
	base.PossibleTypes = append(base.PossibleTypes, ext.PossibleTypes...)
	for _, iface := range ext.Interfaces {
		found := false
		for _, existing := range base.Interfaces {
			if existing == iface {
				found = true
				break
			}
		}
		if !found {
			base.Interfaces = append(base.Interfaces, iface)
		}
	}
}

func deprecation(directives language.DirectiveList) (bool, string) {
	d := directives.ForName("deprecated")
	if d == nil {
		return false, ""
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return true, arg.Value.Raw
	}
	return true, ""
}

// valueToGo converts a constant AST value (no variables appear in SDL) into
// its Go representation for defaults.
func valueToGo(v *language.Value) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(v.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(v.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			m[c.Name] = valueToGo(c.Value)
		}
		return m
	default:
		return nil
	}
}
