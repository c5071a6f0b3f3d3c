package holon

import (
	"fmt"
	"math"
)

// ActionFunc is an action callback. Params are the AI-supplied arguments
// after defaults have been filled in.
type ActionFunc func(params map[string]any) (any, error)

// Param describes one parameter of an action signature.
type Param struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	Default    any    `json:"default,omitempty"`
	HasDefault bool   `json:"has_default,omitempty"`
}

// Signature describes an action to the AI: its parameters, return type and
// a short doc line. Signatures are declared at registration.
type Signature struct {
	Params     []Param
	ReturnType string
	Doc        string
}

// Action couples a name and signature with its callback.
type Action struct {
	Name      string
	Purpose   string
	Signature Signature
	fn        ActionFunc
}

// NewAction builds an action record.
func NewAction(name, purpose string, sig Signature, fn ActionFunc) Action {
	return Action{Name: name, Purpose: purpose, Signature: sig, fn: fn}
}

// Actions is an insertion-ordered action registry. Re-registering a name
// replaces the callback but keeps the original position.
type Actions struct {
	order  []string
	byName map[string]*Action
}

// NewActions returns an empty registry.
func NewActions() *Actions {
	return &Actions{byName: make(map[string]*Action)}
}

// Add registers an action, replacing any previous action with the same name.
func (a *Actions) Add(act Action) {
	if _, exists := a.byName[act.Name]; !exists {
		a.order = append(a.order, act.Name)
	}
	stored := act
	a.byName[act.Name] = &stored
}

// Get returns the action registered under name.
func (a *Actions) Get(name string) (*Action, bool) {
	act, ok := a.byName[name]
	return act, ok
}

// Names returns the registered names in insertion order.
func (a *Actions) Names() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// All returns the actions in insertion order.
func (a *Actions) All() []*Action {
	out := make([]*Action, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.byName[name])
	}
	return out
}

// Len reports the number of registered actions.
func (a *Actions) Len() int {
	return len(a.order)
}

// Dispatch invokes the named action. Defaults from the signature fill in
// absent parameters; a required parameter that is still missing fails with
// ErrInvalidParams before the callback runs.
func (a *Actions) Dispatch(name string, params map[string]any) (any, error) {
	act, ok := a.byName[name]
	if !ok {
		return nil, fmt.Errorf("action %q: %w", name, ErrActionNotFound)
	}
	bound, err := bindParams(act, params)
	if err != nil {
		return nil, err
	}
	return act.fn(bound)
}

// bindParams copies the caller's parameters and fills signature defaults.
func bindParams(act *Action, params map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(params))
	for k, v := range params {
		bound[k] = v
	}
	for _, p := range act.Signature.Params {
		if _, present := bound[p.Name]; present {
			continue
		}
		if p.HasDefault {
			bound[p.Name] = p.Default
			continue
		}
		return nil, fmt.Errorf("action %q: missing parameter %q: %w", act.Name, p.Name, ErrInvalidParams)
	}
	return bound, nil
}

// StringParam extracts a required string parameter.
func StringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return "", fmt.Errorf("parameter %q: %w", name, ErrInvalidParams)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q: expected string, got %T: %w", name, v, ErrInvalidParams)
	}
	return s, nil
}

// IntParam extracts an integer parameter. JSON numbers arrive as float64,
// so whole-valued floats are accepted.
func IntParam(params map[string]any, name string) (int64, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("parameter %q: %w", name, ErrInvalidParams)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %q: expected integer, got %v: %w", name, n, ErrInvalidParams)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected integer, got %T: %w", name, v, ErrInvalidParams)
	}
}

// StringListParam extracts a parameter that may be a single string or a
// list of strings.
func StringListParam(params map[string]any, name string) ([]string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return nil, fmt.Errorf("parameter %q: %w", name, ErrInvalidParams)
	}
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q: expected string list, got %T element: %w", name, item, ErrInvalidParams)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q: expected string or list, got %T: %w", name, v, ErrInvalidParams)
	}
}
