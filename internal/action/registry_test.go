package action

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

func noop(ctx context.Context, actx *Context) error { return nil }

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"fs:write", "debug:log"} {
		if err := r.Register(Action{ID: id, Description: "desc " + id, Handler: noop}); err != nil {
			t.Fatalf("Register(%s) err=%v", id, err)
		}
	}

	err := r.Register(Action{ID: "debug:log", Handler: noop})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Register(duplicate) err=%v, want conflict", err)
	}
	if err.Error() != "Codemod action with ID 'debug:log' has already been registered" {
		t.Fatalf("Register(duplicate) message=%q", err.Error())
	}

	got, err := r.Get("fs:write")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	if got.Description != "desc fs:write" {
		t.Fatalf("Get()=%+v", got)
	}

	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) err=%v, want not found", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].ID != "debug:log" || list[1].ID != "fs:write" {
		t.Fatalf("List()=%+v, want sorted ids", list)
	}
	list[0].ID = "mutated"
	if r.List()[0].ID != "debug:log" {
		t.Fatalf("List() must return a snapshot")
	}
}

func TestRegistry_RejectsInvalidActions(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Action{ID: "", Handler: noop}); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("Register(no id) err=%v", err)
	}
	if err := r.Register(Action{ID: "x"}); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("Register(no handler) err=%v", err)
	}
	bad := Action{ID: "x", Handler: noop, Schema: Schema{Input: map[string]any{"type": 12}}}
	if err := r.Register(bad); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("Register(bad schema) err=%v", err)
	}
}

func TestAction_ValidateInput(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Action{
		ID:      "fs:write",
		Handler: noop,
		Schema: Schema{Input: map[string]any{
			"type":     "object",
			"required": []any{"to", "content"},
			"properties": map[string]any{
				"to":      map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	a, err := r.Get("fs:write")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}

	if err := a.ValidateInput(map[string]any{"to": "a.txt", "content": "x"}); err != nil {
		t.Fatalf("ValidateInput(valid) err=%v", err)
	}

	err = a.ValidateInput(map[string]any{"to": "a.txt"})
	if !errors.Is(err, domain.ErrInput) {
		t.Fatalf("ValidateInput(missing content) err=%v", err)
	}
	if !strings.HasPrefix(err.Error(), "Invalid input passed to action fs:write, ") {
		t.Fatalf("ValidateInput() message=%q", err.Error())
	}

	if err := a.ValidateInput(map[string]any{"to": float64(3), "content": "x"}); !errors.Is(err, domain.ErrInput) {
		t.Fatalf("ValidateInput(wrong type) err=%v", err)
	}
}

func TestStepsExample(t *testing.T) {
	ex := StepsExample("Write a file", map[string]any{"action": "fs:write", "id": "write"})
	if !strings.Contains(ex.Example, "action: fs:write") {
		t.Fatalf("Example=%q", ex.Example)
	}
}
