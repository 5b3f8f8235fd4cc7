package api

import (
	"context"
	"testing"
)

func TestAPICallProcedure(t *testing.T) {
	a := New("auth", nil)
	a.AddProcedure("greet", func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
		return "hi " + kwargs["name"].(string), nil
	})

	result, err := a.Call(context.Background(), "greet", map[string]interface{}{"name": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "hi x" {
		t.Fatalf("expected %q, got %q", "hi x", result)
	}
}

func TestAPICallProcedureNotFound(t *testing.T) {
	a := New("auth", nil)
	_, err := a.Call(context.Background(), "missing", nil)
	if err == nil {
		t.Fatalf("expected ProcedureNotFound for unregistered procedure")
	}
}

func TestAPIGetEvent(t *testing.T) {
	a := New("auth", nil)
	a.AddEvent("logged_in", []string{"user"})

	evt, err := a.GetEvent("logged_in")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Name != "logged_in" || len(evt.Arguments) != 1 || evt.Arguments[0] != "user" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	if _, err := a.GetEvent("missing"); err == nil {
		t.Fatalf("expected EventNotFound for undeclared event")
	}
}

func TestEventAccepts(t *testing.T) {
	evt := &Event{Name: "logged_in", Arguments: []string{"user"}}

	if !evt.Accepts(map[string]interface{}{"user": "x"}) {
		t.Fatalf("expected exact kwarg match to be accepted")
	}
	if evt.Accepts(map[string]interface{}{"user": "x", "extra": 1}) {
		t.Fatalf("expected extra kwarg to be rejected")
	}
	if evt.Accepts(map[string]interface{}{}) {
		t.Fatalf("expected missing kwarg to be rejected")
	}
}

func TestMetaDropsUnderscoreKeys(t *testing.T) {
	a := New("auth", map[string]interface{}{"version": "1.0", "_internal": true})
	meta := a.Meta()
	if _, ok := meta.Extra["_internal"]; ok {
		t.Fatalf("expected underscore-prefixed metadata to be dropped")
	}
	if meta.Extra["version"] != "1.0" {
		t.Fatalf("expected non-underscore metadata to be carried verbatim")
	}
}
