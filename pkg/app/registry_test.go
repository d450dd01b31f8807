package app

import (
	"fmt"
	"testing"
)

type fakeApp struct {
	name    string
	started bool
	stopped bool
}

func (f *fakeApp) Name() string { return f.name }
func (f *fakeApp) Start() error { f.started = true; return nil }
func (f *fakeApp) Stop()        { f.stopped = true }

func singleton(a App) Factory {
	return func(ctx *Context) ([]App, error) {
		return []App{a}, nil
	}
}

// TestRegistry_Register tests registration validation
func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Info{Name: "climate", Factory: singleton(&fakeApp{name: "climate"})}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	if err := r.Register(Info{Name: "", Factory: singleton(&fakeApp{})}); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := r.Register(Info{Name: "presence"}); err == nil {
		t.Error("Expected error for nil factory")
	}
	if err := r.Register(Info{Name: "climate", Factory: singleton(&fakeApp{})}); err == nil {
		t.Error("Expected error for duplicate name")
	}
}

// TestRegistry_ListOrder tests startup ordering by Order then Name
func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()

	r.Register(Info{Name: "security", Order: 60, Factory: singleton(&fakeApp{})})
	r.Register(Info{Name: "presence", Order: 20, Factory: singleton(&fakeApp{})})
	r.Register(Info{Name: "motion_lights", Factory: singleton(&fakeApp{})}) // default 50
	r.Register(Info{Name: "covers", Order: 50, Factory: singleton(&fakeApp{})})

	names := r.Names()
	want := []string{"presence", "covers", "motion_lights", "security"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d apps, got %d", len(want), len(names))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Expected %s at position %d, got %s", name, i, names[i])
		}
	}
}

// TestRegistry_CreateAll tests instance creation across factories
func TestRegistry_CreateAll(t *testing.T) {
	r := NewRegistry()

	r.Register(Info{Name: "climate", Order: 30, Factory: singleton(&fakeApp{name: "climate"})})
	r.Register(Info{Name: "motion_lights", Order: 50, Factory: func(ctx *Context) ([]App, error) {
		return []App{
			&fakeApp{name: "motion_lights/hallway"},
			&fakeApp{name: "motion_lights/garage"},
		}, nil
	}})

	apps, err := r.CreateAll(&Context{})
	if err != nil {
		t.Fatalf("Failed to create apps: %v", err)
	}
	if len(apps) != 3 {
		t.Fatalf("Expected 3 app instances, got %d", len(apps))
	}
	if apps[0].Name() != "climate" {
		t.Errorf("Expected climate first, got %s", apps[0].Name())
	}
}

// TestRegistry_CreateAllFailure tests reverse-order cleanup when a factory
// fails
func TestRegistry_CreateAllFailure(t *testing.T) {
	r := NewRegistry()

	first := &fakeApp{name: "presence"}
	r.Register(Info{Name: "presence", Order: 20, Factory: singleton(first)})
	r.Register(Info{Name: "covers", Order: 40, Factory: func(ctx *Context) ([]App, error) {
		return nil, fmt.Errorf("bad config")
	}})

	if _, err := r.CreateAll(&Context{}); err == nil {
		t.Fatal("Expected error from failing factory")
	}
	if !first.stopped {
		t.Error("Expected earlier app to be stopped on failure")
	}
}
