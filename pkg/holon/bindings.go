package holon

// Dynamic is a zero-argument binding resolved on every read. Dynamic leaves
// are never persisted; they are re-registered by code after a restore.
type Dynamic func() any

// Binding is one entry of a Bindings container: a source value with an
// optional key. The source may be a literal JSON-like value, a Dynamic
// func, a nested *Agent, or another container.
type Binding struct {
	Source any
	Key    string
	Keyed  bool
}

// Bindings is an ordered collection of keyed and unkeyed values.
type Bindings struct {
	items []Binding
}

// NewBindings returns an empty container.
func NewBindings() *Bindings {
	return &Bindings{}
}

// Add appends an unkeyed binding and returns the container for chaining.
func (b *Bindings) Add(source any) *Bindings {
	b.items = append(b.items, Binding{Source: source})
	return b
}

// AddKeyed appends a keyed binding and returns the container for chaining.
func (b *Bindings) AddKeyed(key string, source any) *Bindings {
	b.items = append(b.items, Binding{Source: source, Key: key, Keyed: true})
	return b
}

// Len reports the number of bindings.
func (b *Bindings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Resolve returns the resolved values in insertion order.
func (b *Bindings) Resolve() []any {
	out := make([]any, 0, len(b.items))
	for _, item := range b.items {
		out = append(out, resolveValue(item.Source))
	}
	return out
}

// Serialize produces the AI-facing form of the container: a map when every
// binding is keyed, a plain sequence when none are, and a sequence mixing
// scalars with single-entry maps otherwise.
func (b *Bindings) Serialize() any {
	if b == nil || len(b.items) == 0 {
		return []any{}
	}
	allKeyed := true
	anyKeyed := false
	for _, item := range b.items {
		if item.Keyed {
			anyKeyed = true
		} else {
			allKeyed = false
		}
	}
	switch {
	case allKeyed:
		out := make(map[string]any, len(b.items))
		for _, item := range b.items {
			out[item.Key] = resolveValue(item.Source)
		}
		return out
	case !anyKeyed:
		return b.Resolve()
	default:
		out := make([]any, 0, len(b.items))
		for _, item := range b.items {
			v := resolveValue(item.Source)
			if item.Keyed {
				out = append(out, map[string]any{item.Key: v})
			} else {
				out = append(out, v)
			}
		}
		return out
	}
}

// resolveValue converts a binding tree into plain JSON-like values: Dynamic
// funcs are invoked (and their results resolved in turn), nested agents
// collapse to their HUD, containers are rebuilt so the caller always owns
// fresh maps and slices.
func resolveValue(v any) any {
	switch val := v.(type) {
	case Dynamic:
		return resolveValue(val())
	case func() any:
		return resolveValue(val())
	case *Agent:
		return val.hudLocked()
	case *Bindings:
		return val.Serialize()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolveValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item)
		}
		return out
	default:
		return v
	}
}

// deepCopyValue clones a binding tree. Dynamic funcs and agent references
// are copied by reference; maps and slices are rebuilt recursively.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// dropDynamic strips non-persistable leaves (Dynamic funcs, agent
// references) from a binding tree, keeping only static JSON-like values.
func dropDynamic(v any) (any, bool) {
	switch val := v.(type) {
	case Dynamic, func() any, *Agent, *Bindings:
		return nil, false
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if kept, ok := dropDynamic(item); ok {
				out[k] = kept
			}
		}
		return out, true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if kept, ok := dropDynamic(item); ok {
				out = append(out, kept)
			}
		}
		return out, true
	default:
		return v, true
	}
}
