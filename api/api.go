// Package api defines APIs, their procedures and events, and the
// process-wide registry that maps API names to instances.
//
// An API is a named collection of procedures (callable, keyword-argument-only
// members returning a value) and events (named slots with a fixed, ordered
// argument list). Procedures are registered explicitly as keyword-argument
// callables; see reflect.go for a convenience adapter that registers a Go
// struct's `func(*Args, *Reply) error` methods via reflection when that's
// more convenient than hand-writing a Procedure closure.
package api

import (
	"context"

	"github.com/bx-d/bus/buserr"
)

// Procedure is a keyword-argument-only callable returning a serializable
// value or failing. ctx carries cancellation/deadline for suspension.
type Procedure func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error)

// Event is a named slot on an API whose sole declarative attribute is the
// ordered list of argument names it admits.
type Event struct {
	Name      string
	Arguments []string
}

// Accepts reports whether kwargs names exactly match the event's declared
// argument set (extra or missing names are both rejected).
func (e *Event) Accepts(kwargs map[string]interface{}) bool {
	if len(kwargs) != len(e.Arguments) {
		return false
	}
	for _, name := range e.Arguments {
		if _, ok := kwargs[name]; !ok {
			return false
		}
	}
	return true
}

// Meta carries an API's declarative metadata block. Name is required;
// everything else is opaque to the core and carried verbatim. Keys starting
// with "_" are dropped.
type Meta struct {
	Name  string
	Extra map[string]interface{}
}

// API is a named collection of procedures and events.
type API struct {
	meta       Meta
	procedures map[string]Procedure
	events     map[string]*Event
}

// New constructs an API. extra carries additional opaque metadata; any key
// beginning with "_" is ignored.
func New(name string, extra map[string]interface{}) *API {
	clean := map[string]interface{}{}
	for k, v := range extra {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		clean[k] = v
	}
	return &API{
		meta:       Meta{Name: name, Extra: clean},
		procedures: map[string]Procedure{},
		events:     map[string]*Event{},
	}
}

// Name returns the API's dotted name.
func (a *API) Name() string { return a.meta.Name }

// Meta returns the API's metadata block.
func (a *API) Meta() Meta { return a.meta }

// AddProcedure registers a procedure under name, overwriting any existing
// registration of the same name — API construction is a startup-time
// activity, not a runtime one.
func (a *API) AddProcedure(name string, proc Procedure) *API {
	a.procedures[name] = proc
	return a
}

// AddEvent declares an event and the argument names it admits.
func (a *API) AddEvent(name string, arguments []string) *API {
	a.events[name] = &Event{Name: name, Arguments: arguments}
	return a
}

// Call looks up procedureName and invokes it. Positional arguments are
// disallowed by construction — kwargs is always a mapping.
func (a *API) Call(ctx context.Context, procedureName string, kwargs map[string]interface{}) (interface{}, error) {
	proc, ok := a.procedures[procedureName]
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrProcedureNotFound, "%s.%s", a.meta.Name, procedureName)
	}
	return proc(ctx, kwargs)
}

// GetEvent returns the event declaration or ErrEventNotFound.
func (a *API) GetEvent(name string) (*Event, error) {
	evt, ok := a.events[name]
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrEventNotFound, "%s.%s", a.meta.Name, name)
	}
	return evt, nil
}

// MemberNames lists procedure and event names declared on the API, used by
// BusPath.Dir() shell-style introspection.
func (a *API) MemberNames() []string {
	names := make([]string, 0, len(a.procedures)+len(a.events))
	for name := range a.procedures {
		names = append(names, name)
	}
	for name := range a.events {
		names = append(names, name)
	}
	return names
}
