package holon

import (
	"errors"
	"reflect"
	"testing"
)

func TestActionsInsertionOrder(t *testing.T) {
	reg := NewActions()
	reg.Add(NewAction("b", "", Signature{}, func(map[string]any) (any, error) { return nil, nil }))
	reg.Add(NewAction("a", "", Signature{}, func(map[string]any) (any, error) { return nil, nil }))
	reg.Add(NewAction("c", "", Signature{}, func(map[string]any) (any, error) { return nil, nil }))

	want := []string{"b", "a", "c"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	// Re-registering keeps the original slot.
	reg.Add(NewAction("a", "replaced", Signature{}, func(map[string]any) (any, error) { return "new", nil }))
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() after replace = %v, want %v", got, want)
	}
	act, ok := reg.Get("a")
	if !ok || act.Purpose != "replaced" {
		t.Errorf("replaced action = %+v", act)
	}
	if reg.Len() != 3 {
		t.Errorf("Len() = %d, want 3", reg.Len())
	}
}

func TestDispatchFillsDefaults(t *testing.T) {
	reg := NewActions()
	var seen map[string]any
	reg.Add(NewAction("greet", "", Signature{
		Params: []Param{
			{Name: "name", Type: "string"},
			{Name: "greeting", Type: "string", Default: "hello", HasDefault: true},
		},
	}, func(params map[string]any) (any, error) {
		seen = params
		return params["greeting"].(string) + " " + params["name"].(string), nil
	}))

	result, err := reg.Dispatch("greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "hello ada" {
		t.Errorf("result = %v", result)
	}
	if seen["greeting"] != "hello" {
		t.Errorf("default not filled: %v", seen)
	}
}

func TestDispatchMissingRequired(t *testing.T) {
	reg := NewActions()
	called := false
	reg.Add(NewAction("need", "", Signature{
		Params: []Param{{Name: "x", Type: "string"}},
	}, func(map[string]any) (any, error) {
		called = true
		return nil, nil
	}))

	_, err := reg.Dispatch("need", nil)
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	if called {
		t.Error("callback ran despite missing parameter")
	}
}

func TestDispatchUnknownName(t *testing.T) {
	reg := NewActions()
	_, err := reg.Dispatch("nope", nil)
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("err = %v, want ErrActionNotFound", err)
	}
}

func TestDispatchDoesNotMutateCallerParams(t *testing.T) {
	reg := NewActions()
	reg.Add(NewAction("act", "", Signature{
		Params: []Param{{Name: "opt", Default: 1, HasDefault: true}},
	}, func(map[string]any) (any, error) { return nil, nil }))

	params := map[string]any{}
	if _, err := reg.Dispatch("act", params); err != nil {
		t.Fatal(err)
	}
	if len(params) != 0 {
		t.Errorf("caller params mutated: %v", params)
	}
}

func TestStringParam(t *testing.T) {
	if v, err := StringParam(map[string]any{"k": "v"}, "k"); err != nil || v != "v" {
		t.Errorf("got %q, %v", v, err)
	}
	if _, err := StringParam(map[string]any{}, "k"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("missing key err = %v", err)
	}
	if _, err := StringParam(map[string]any{"k": 3}, "k"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("wrong type err = %v", err)
	}
}

func TestIntParam(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{3, 3, true},
		{int64(9), 9, true},
		{float64(5), 5, true},
		{float64(5.5), 0, false},
		{"7", 0, false},
	}
	for _, tc := range cases {
		got, err := IntParam(map[string]any{"n": tc.in}, "n")
		if tc.ok {
			if err != nil || got != tc.want {
				t.Errorf("IntParam(%v) = %d, %v", tc.in, got, err)
			}
		} else if !errors.Is(err, ErrInvalidParams) {
			t.Errorf("IntParam(%v) err = %v, want ErrInvalidParams", tc.in, err)
		}
	}
}

func TestStringListParam(t *testing.T) {
	got, err := StringListParam(map[string]any{"r": "solo"}, "r")
	if err != nil || !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("single string: %v, %v", got, err)
	}
	got, err = StringListParam(map[string]any{"r": []any{"a", "b"}}, "r")
	if err != nil || !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("any list: %v, %v", got, err)
	}
	got, err = StringListParam(map[string]any{"r": []string{"x"}}, "r")
	if err != nil || !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("string list: %v, %v", got, err)
	}
	if _, err := StringListParam(map[string]any{"r": []any{"a", 2}}, "r"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("mixed list err = %v", err)
	}
}
