package api

import "testing"

func TestRegistryAddGet(t *testing.T) {
	reg := NewRegistry()
	a := New("auth", nil)

	if err := reg.Add("auth", a); err != nil {
		t.Fatalf("unexpected error adding api: %v", err)
	}

	got, err := reg.Get("auth")
	if err != nil {
		t.Fatalf("unexpected error getting api: %v", err)
	}
	if got != a {
		t.Fatalf("expected Get to return the same instance that was added")
	}
}

func TestRegistryDuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add("auth", New("auth", nil)); err != nil {
		t.Fatalf("unexpected error on first add: %v", err)
	}
	err := reg.Add("auth", New("auth", nil))
	if err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegistryUnknownApi(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("nope"); err == nil {
		t.Fatalf("expected lookup of unregistered name to fail")
	}
}

func TestRegistryNilApiRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Add("auth", nil); err == nil {
		t.Fatalf("expected nil api to be rejected")
	}
}

func TestRegistryNamesAndIterate(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Add("auth", New("auth", nil))
	_ = reg.Add("billing", New("billing", nil))

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d: %v", len(names), names)
	}

	apis := reg.Iterate()
	if len(apis) != 2 {
		t.Fatalf("expected 2 apis, got %d", len(apis))
	}
}
