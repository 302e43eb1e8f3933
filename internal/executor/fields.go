package executor

import (
	"fmt"
	"strings"

	language "github.com/hanpama/graphexec/internal/language"
	schema "github.com/hanpama/graphexec/internal/schema"
)

// fieldGroup is the list of field nodes contributing to one response key.
// Multiple nodes arise from field merging across fragments.
type fieldGroup struct {
	ResponseKey string
	Fields      []*language.Field
}

// groupedFieldSet preserves response key order from the original query.
type groupedFieldSet struct {
	groups []*fieldGroup
	index  map[string]int
}

func newGroupedFieldSet() *groupedFieldSet {
	return &groupedFieldSet{index: map[string]int{}}
}

func (g *groupedFieldSet) add(responseKey string, field *language.Field) {
	if idx, ok := g.index[responseKey]; ok {
		g.groups[idx].Fields = append(g.groups[idx].Fields, field)
		return
	}
	g.index[responseKey] = len(g.groups)
	g.groups = append(g.groups, &fieldGroup{ResponseKey: responseKey, Fields: []*language.Field{field}})
}

func (g *groupedFieldSet) orderedGroups() []*fieldGroup { return g.groups }

// deferredGroup is a selection group split out of its enclosing selection set
// by an active @defer. Nested groups discovered while collecting this one are
// parented to it.
type deferredGroup struct {
	label  string
	fields *groupedFieldSet
	defers []*deferredGroup
}

// collectFields flattens a selection set plus active fragments into an
// ordered grouping by response key, applying @skip/@include and splitting out
// active @defer fragments into separate deferred groups.
func (ec *executionContext) collectFields(runtimeType *schema.Type, selectionSet language.SelectionSet) (*groupedFieldSet, []*deferredGroup) {
	grouped := newGroupedFieldSet()
	var defers []*deferredGroup
	ec.collectFieldsImpl(runtimeType, selectionSet, grouped, &defers, map[string]bool{})
	return grouped, defers
}

func (ec *executionContext) collectFieldsImpl(
	runtimeType *schema.Type,
	selectionSet language.SelectionSet,
	grouped *groupedFieldSet,
	defers *[]*deferredGroup,
	visited map[string]bool,
) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !ec.shouldInclude(sel.Directives) {
				continue
			}
			responseKey := sel.Alias
			if responseKey == "" {
				responseKey = sel.Name
			}
			grouped.add(responseKey, sel)

		case *language.InlineFragment:
			if !ec.shouldInclude(sel.Directives) {
				continue
			}
			if !ec.typeConditionMatches(sel.TypeCondition, runtimeType) {
				continue
			}
			if label, deferred := ec.deferParams(sel.Directives); deferred {
				*defers = append(*defers, ec.collectDeferred(runtimeType, sel.SelectionSet, label, visited))
				continue
			}
			ec.collectFieldsImpl(runtimeType, sel.SelectionSet, grouped, defers, visited)

		case *language.FragmentSpread:
			if !ec.shouldInclude(sel.Directives) {
				continue
			}
			fragment := ec.fragments[sel.Name]
			if fragment == nil {
				continue
			}
			if !ec.typeConditionMatches(fragment.TypeCondition, runtimeType) {
				continue
			}
			if !ec.shouldInclude(fragment.Directives) {
				continue
			}
			// Each deferred occurrence of a fragment is independent, so the
			// visited check applies only to inlined spreads.
			if label, deferred := ec.deferParams(sel.Directives); deferred {
				*defers = append(*defers, ec.collectDeferred(runtimeType, fragment.SelectionSet, label, visited))
				continue
			}
			if visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			ec.collectFieldsImpl(runtimeType, fragment.SelectionSet, grouped, defers, visited)
		}
	}
}

// collectDeferred collects a deferred fragment's inner selections into a
// fresh group with its own traversal state.
func (ec *executionContext) collectDeferred(
	runtimeType *schema.Type,
	selectionSet language.SelectionSet,
	label string,
	visited map[string]bool,
) *deferredGroup {
	dg := &deferredGroup{label: label, fields: newGroupedFieldSet()}
	forked := make(map[string]bool, len(visited))
	for name := range visited {
		forked[name] = true
	}
	ec.collectFieldsImpl(runtimeType, selectionSet, dg.fields, &dg.defers, forked)
	return dg
}

// typeConditionMatches reports whether a fragment's type condition applies to
// the runtime type: absent, exact match, or abstract-type membership.
func (ec *executionContext) typeConditionMatches(condition string, runtimeType *schema.Type) bool {
	if condition == "" || condition == runtimeType.Name {
		return true
	}
	return ec.schema.IsSubType(condition, runtimeType)
}

// shouldInclude evaluates @skip/@include; @skip wins when both are present.
func (ec *executionContext) shouldInclude(directives language.DirectiveList) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := ec.directiveArgument(skip, "if").(bool); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := ec.directiveArgument(include, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

// deferParams reads an active @defer from the directive list. The directive
// is inactive when incremental delivery is disabled or `if` is false.
func (ec *executionContext) deferParams(directives language.DirectiveList) (label string, ok bool) {
	if ec.opts.disableIncremental {
		return "", false
	}
	d := directives.ForName("defer")
	if d == nil {
		return "", false
	}
	if v, isBool := ec.directiveArgument(d, "if").(bool); isBool && !v {
		return "", false
	}
	label, _ = ec.directiveArgument(d, "label").(string)
	return label, true
}

// streamParams reads an active @stream from a field node.
func (ec *executionContext) streamParams(field *language.Field) (label string, initialCount int, ok bool) {
	if ec.opts.disableIncremental {
		return "", 0, false
	}
	d := field.Directives.ForName("stream")
	if d == nil {
		return "", 0, false
	}
	if v, isBool := ec.directiveArgument(d, "if").(bool); isBool && !v {
		return "", 0, false
	}
	label, _ = ec.directiveArgument(d, "label").(string)
	switch v := ec.directiveArgument(d, "initialCount").(type) {
	case int:
		initialCount = v
	case int64:
		initialCount = int(v)
	case float64:
		initialCount = int(v)
	}
	if initialCount < 0 {
		initialCount = 0
	}
	return label, initialCount, true
}

// directiveArgument evaluates one directive argument with variable substitution.
func (ec *executionContext) directiveArgument(directive *language.Directive, name string) any {
	for _, arg := range directive.Arguments {
		if arg.Name == name {
			return valueFromAST(arg.Value, ec.variableValues)
		}
	}
	return nil
}

// subfieldKey identifies a (return type, field-node list) pair. Every node
// pointer participates in the key: merged groups can share their first node
// through a common fragment and still diverge in later nodes.
type subfieldKey string

func makeSubfieldKey(typeName string, nodes []*language.Field) subfieldKey {
	var b strings.Builder
	b.WriteString(typeName)
	for _, node := range nodes {
		fmt.Fprintf(&b, "|%p", node)
	}
	return subfieldKey(b.String())
}

type collectedSubfields struct {
	grouped *groupedFieldSet
	defers  []*deferredGroup
}

// collectSubfields merges the sub-selections of all field nodes for one
// response key and collects them against the resolved object type. Memoized
// because list completion invokes it once per item.
func (ec *executionContext) collectSubfields(returnType *schema.Type, fieldNodes []*language.Field) (*groupedFieldSet, []*deferredGroup) {
	key := makeSubfieldKey(returnType.Name, fieldNodes)
	ec.mu.Lock()
	if cached, ok := ec.subfieldCache[key]; ok {
		ec.mu.Unlock()
		return cached.grouped, cached.defers
	}
	ec.mu.Unlock()

	grouped := newGroupedFieldSet()
	var defers []*deferredGroup
	visited := map[string]bool{}
	for _, node := range fieldNodes {
		if len(node.SelectionSet) > 0 {
			ec.collectFieldsImpl(returnType, node.SelectionSet, grouped, &defers, visited)
		}
	}

	ec.mu.Lock()
	ec.subfieldCache[key] = &collectedSubfields{grouped: grouped, defers: defers}
	ec.mu.Unlock()
	return grouped, defers
}
