// Package message defines the three wire-level message kinds exchanged
// across the bus: RPC calls, RPC results, and events.
//
// Every message splits into metadata (identity/routing fields, serialized
// separately by transports that carry structured headers) and kwargs (the
// caller-supplied argument mapping). The round-trip law is:
//
//	Type.FromDict(m.GetMetadata(), m.GetKwargs()) == m
//
// The wire format itself is left to the codec/transport layers — this
// package only defines the split they serialize against.
package message

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// Message is the contract shared by RpcMessage, ResultMessage and EventMessage.
type Message interface {
	ID() string
	GetMetadata() map[string]interface{}
	GetKwargs() map[string]interface{}
}

// NewID generates a collision-free, time-ordered message identifier: a
// version-1 (time-based) UUID encoded with the URL-safe base64 alphabet,
// mirroring the original `b64encode(uuid1().bytes)` construction.
func NewID() string {
	id, err := uuid.NewUUID()
	if err != nil {
		// NewUUID only fails if the host can't produce a MAC/clock-sequence
		// node id; fall back to random rather than panic — ordering is a
		// nicety here, uniqueness is the invariant.
		id = uuid.New()
	}
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// RpcMessage is a call to a remote procedure awaiting a ResultMessage.
type RpcMessage struct {
	id            string
	APIName       string
	ProcedureName string
	Kwargs        map[string]interface{}
	// ReturnPath is opaque to the core: a ResultTransport produces it via
	// GetReturnPath and the client writes it in before dispatch.
	ReturnPath string
}

// RpcMessageRequiredMetadata lists the keys FromDict needs to reconstruct an RpcMessage.
var RpcMessageRequiredMetadata = []string{"id", "api_name", "procedure_name", "return_path"}

// NewRpcMessage constructs a call. If id is empty, one is generated.
func NewRpcMessage(id, apiName, procedureName string, kwargs map[string]interface{}, returnPath string) *RpcMessage {
	if id == "" {
		id = NewID()
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return &RpcMessage{
		id:            id,
		APIName:       apiName,
		ProcedureName: procedureName,
		Kwargs:        kwargs,
		ReturnPath:    returnPath,
	}
}

func (m *RpcMessage) ID() string { return m.id }

// CanonicalName is the dotted "api_name.procedure_name" form.
func (m *RpcMessage) CanonicalName() string {
	return m.APIName + "." + m.ProcedureName
}

func (m *RpcMessage) GetMetadata() map[string]interface{} {
	return map[string]interface{}{
		"id":             m.id,
		"api_name":       m.APIName,
		"procedure_name": m.ProcedureName,
		"return_path":    m.ReturnPath,
	}
}

func (m *RpcMessage) GetKwargs() map[string]interface{} {
	return m.Kwargs
}

// RpcMessageFromDict is the from_dict factory, symmetric with
// GetMetadata/GetKwargs as required by the round-trip law.
func RpcMessageFromDict(metadata map[string]interface{}, kwargs map[string]interface{}) *RpcMessage {
	return NewRpcMessage(
		stringField(metadata, "id"),
		stringField(metadata, "api_name"),
		stringField(metadata, "procedure_name"),
		kwargs,
		stringField(metadata, "return_path"),
	)
}

// ResultMessage is the reply to an RpcMessage, correlated by RpcMessageID.
type ResultMessage struct {
	id           string
	RpcMessageID string
	Result       interface{}
	Error        bool
	Trace        string
}

// ResultMessageRequiredMetadata lists the keys FromDict needs to reconstruct a ResultMessage.
var ResultMessageRequiredMetadata = []string{"rpc_message_id"}

// NewResultMessage constructs a successful or explicit-error result.
func NewResultMessage(id, rpcMessageID string, result interface{}, isError bool, trace string) *ResultMessage {
	if id == "" {
		id = NewID()
	}
	return &ResultMessage{
		id:           id,
		RpcMessageID: rpcMessageID,
		Result:       result,
		Error:        isError,
		Trace:        trace,
	}
}

// NewResultMessageFromError builds a ResultMessage from a failed
// invocation: Error is forced true, Result becomes the failure's textual
// form, and Trace captures the failure context (a full stack trace when err
// was produced via buserr.Wrap/Wrapf or errors.WithStack, which implement
// pkg/errors' formatting hook).
func NewResultMessageFromError(rpcMessageID string, err error) *ResultMessage {
	return &ResultMessage{
		id:           NewID(),
		RpcMessageID: rpcMessageID,
		Result:       err.Error(),
		Error:        true,
		Trace:        fmt.Sprintf("%+v", err),
	}
}

func (m *ResultMessage) ID() string { return m.id }

func (m *ResultMessage) GetMetadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"id":             m.id,
		"rpc_message_id": m.RpcMessageID,
		"error":          m.Error,
	}
	if m.Error {
		metadata["trace"] = m.Trace
	}
	return metadata
}

func (m *ResultMessage) GetKwargs() map[string]interface{} {
	return map[string]interface{}{"result": m.Result}
}

// ResultMessageFromDict is the from_dict factory.
func ResultMessageFromDict(metadata map[string]interface{}, kwargs map[string]interface{}) *ResultMessage {
	isError, _ := metadata["error"].(bool)
	return NewResultMessage(
		stringField(metadata, "id"),
		stringField(metadata, "rpc_message_id"),
		kwargs["result"],
		isError,
		stringField(metadata, "trace"),
	)
}

// EventMessage is a fire-and-forget broadcast of a named event.
type EventMessage struct {
	id        string
	APIName   string
	EventName string
	Kwargs    map[string]interface{}
}

// EventMessageRequiredMetadata lists the keys FromDict needs to reconstruct an EventMessage.
var EventMessageRequiredMetadata = []string{"api_name", "event_name"}

// NewEventMessage constructs an event firing.
func NewEventMessage(id, apiName, eventName string, kwargs map[string]interface{}) *EventMessage {
	if id == "" {
		id = NewID()
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	return &EventMessage{id: id, APIName: apiName, EventName: eventName, Kwargs: kwargs}
}

func (m *EventMessage) ID() string { return m.id }

// CanonicalName is the dotted "api_name.event_name" form.
func (m *EventMessage) CanonicalName() string {
	return m.APIName + "." + m.EventName
}

func (m *EventMessage) GetMetadata() map[string]interface{} {
	return map[string]interface{}{
		"id":         m.id,
		"api_name":   m.APIName,
		"event_name": m.EventName,
	}
}

func (m *EventMessage) GetKwargs() map[string]interface{} {
	return m.Kwargs
}

// EventMessageFromDict is the from_dict factory.
func EventMessageFromDict(metadata map[string]interface{}, kwargs map[string]interface{}) *EventMessage {
	return NewEventMessage(
		stringField(metadata, "id"),
		stringField(metadata, "api_name"),
		stringField(metadata, "event_name"),
		kwargs,
	)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
