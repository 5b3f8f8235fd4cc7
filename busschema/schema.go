// Package busschema defines the optional schema collaborator for the bus:
// lookup of declared parameter/response schemas per (api, member) and
// validation of call parameters against them. A full JSON-schema
// validation engine is an external collaborator; this package defines the
// interface plus a minimal in-memory default that checks declared
// parameter names are present.
package busschema

import (
	"github.com/bx-d/bus/buserr"
)

// RpcSchema describes one procedure's parameter and response shape.
type RpcSchema struct {
	Parameters map[string]interface{}
	Response   map[string]interface{}
}

// EventSchema describes one event's parameter shape.
type EventSchema struct {
	Parameters map[string]interface{}
}

// Provider is the schema lookup and validation interface.
type Provider interface {
	GetEventOrRpcSchema(apiName, name string) (map[string]interface{}, error)
	GetRpcSchema(apiName, name string) (*RpcSchema, error)
	ValidateParameters(apiName, name string, parameters map[string]interface{}) error
}

// Registry is a minimal in-memory schema Provider: application startup
// registers a schema per (api, name); lookups against anything else fail
// with ErrSchemaNotFound. Parameter validation only checks declared
// parameter names are present — it is not a structural/type validator.
type Registry struct {
	rpcs   map[string]*RpcSchema
	events map[string]*EventSchema
}

// NewRegistry constructs an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{rpcs: map[string]*RpcSchema{}, events: map[string]*EventSchema{}}
}

// AddRpcSchema registers schema for an RPC procedure.
func (r *Registry) AddRpcSchema(apiName, name string, schema *RpcSchema) {
	r.rpcs[key(apiName, name)] = schema
}

// AddEventSchema registers schema for an event.
func (r *Registry) AddEventSchema(apiName, name string, schema *EventSchema) {
	r.events[key(apiName, name)] = schema
}

func (r *Registry) GetEventOrRpcSchema(apiName, name string) (map[string]interface{}, error) {
	if s, ok := r.rpcs[key(apiName, name)]; ok {
		return map[string]interface{}{"parameters": s.Parameters, "response": s.Response}, nil
	}
	if s, ok := r.events[key(apiName, name)]; ok {
		return map[string]interface{}{"parameters": s.Parameters}, nil
	}
	return nil, buserr.Wrapf(buserr.ErrSchemaNotFound, "%s.%s", apiName, name)
}

func (r *Registry) GetRpcSchema(apiName, name string) (*RpcSchema, error) {
	s, ok := r.rpcs[key(apiName, name)]
	if !ok {
		return nil, buserr.Wrapf(buserr.ErrSchemaNotFound, "%s.%s", apiName, name)
	}
	return s, nil
}

// ValidateParameters checks that every schema-declared parameter name is
// present in parameters. Responses are not validated here — response
// schemas are exposed for inspection only.
func (r *Registry) ValidateParameters(apiName, name string, parameters map[string]interface{}) error {
	s, ok := r.rpcs[key(apiName, name)]
	var declared map[string]interface{}
	if ok {
		declared = s.Parameters
	} else if e, ok := r.events[key(apiName, name)]; ok {
		declared = e.Parameters
	} else {
		return buserr.Wrapf(buserr.ErrSchemaNotFound, "%s.%s", apiName, name)
	}
	for param := range declared {
		if _, present := parameters[param]; !present {
			return buserr.Wrapf(buserr.ErrInvalidParameters, "missing parameter %q for %s.%s", param, apiName, name)
		}
	}
	return nil
}

func key(apiName, name string) string {
	return apiName + "." + name
}
