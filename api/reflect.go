package api

// RegisterStruct bridges the classic `func(*Args, *Reply) error` RPC
// method shape onto the bus's keyword-argument calling convention. It
// scans a struct's exported methods for that shape and wraps each match in
// a Procedure: kwargs arrive as a map, get JSON-remarshaled into the
// method's ArgType struct (so struct field tags double as the
// keyword-argument names), the method runs, and the Reply struct is
// remarshaled back out to a generic value.
//
// This lets application code register a whole struct of related RPCs in
// one call without hand-writing every procedure as a closure.
import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/bx-d/bus/buserr"
)

// methodType stores the reflection metadata for a single RPC-compatible method.
type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type // Type of the first argument (e.g., *Args → Args)
	ReplyType reflect.Type // Type of the second argument (e.g., *Reply → Reply)
}

// errorType is used to check if a method's return type is `error`.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterStruct scans all exported methods of rcvr (a pointer to a
// struct) for the RPC method signature convention:
//
//	func (receiver) MethodName(args *ArgsType, reply *ReplyType) error
//
// and registers each as a procedure named MethodName on a. Methods that
// don't match the convention are silently skipped.
func RegisterStruct(a *API, rcvr interface{}) error {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return buserr.Wrap(buserr.ErrInvalidApiRegistryEntry, "RegisterStruct: rcvr must be a pointer to a struct")
	}
	if typ.Elem().Kind() != reflect.Struct {
		return buserr.Wrap(buserr.ErrInvalidApiRegistryEntry, "RegisterStruct: rcvr must point to a struct")
	}

	val := reflect.ValueOf(rcvr)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)

		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 {
			continue
		}
		if method.Type.Out(0) != errorType {
			continue
		}
		if method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		mt := &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
		a.AddProcedure(method.Name, reflectedProcedure(val, mt))
	}
	return nil
}

// reflectedProcedure closes over the receiver value and method metadata,
// producing the Procedure the API registry actually calls.
func reflectedProcedure(rcvr reflect.Value, mt *methodType) Procedure {
	return func(ctx context.Context, kwargs map[string]interface{}) (interface{}, error) {
		argv := reflect.New(mt.ArgType)
		if err := remarshal(kwargs, argv.Interface()); err != nil {
			return nil, buserr.Wrapf(buserr.ErrInvalidParameters, "decoding kwargs into %s: %v", mt.ArgType.Name(), err)
		}

		replyv := reflect.New(mt.ReplyType)

		results := mt.method.Func.Call([]reflect.Value{rcvr, argv, replyv})
		if !results[0].IsNil() {
			return nil, results[0].Interface().(error)
		}

		var out map[string]interface{}
		if err := remarshal(replyv.Interface(), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// remarshal round-trips v through JSON into dst, used to bridge the
// keyword-argument map and the reflected struct shapes in both directions.
func remarshal(v interface{}, dst interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
