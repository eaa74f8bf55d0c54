// Package handler adapts ordinary Go methods into capnweb.Target values,
// mirroring the reflection-based adapter in creachadair/jrpc2's handler
// package but keyed by method name against capnweb's untyped argument
// lists rather than jrpc2's single JSON parameter blob.
package handler

import (
	"context"
	"fmt"
	"reflect"

	"bitbucket.org/creachadair/stringset"

	"github.com/nikileshsa/capnweb-go/capnweb"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// Func is a single exported method: it accepts a context and a decoded
// argument list, and returns a result or error.
type Func func(ctx context.Context, args []any) (any, error)

// Map is a capnweb.Target backed by a fixed set of named methods, the
// capnweb analogue of jrpc2's handler.Map/Assigner.
type Map map[string]Func

func (m Map) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	f, ok := m[method]
	if !ok {
		return nil, capnweb.Errorf(capnweb.CodeNotFound, "no such method %q", method)
	}
	return f(ctx, args)
}

// Names reports the method names m dispatches to, the capnweb analogue of
// jrpc2/handler.Map.Names.
func (m Map) Names() []string { return stringset.FromKeys(m).Elements() }

// New adapts fn, a function of the shape
//
//	func(context.Context, <params>...) (<result>, error)
//	func(context.Context, <params>...) error
//
// into a Func. fn's non-context parameters are filled positionally from the
// decoded argument list; a trailing error return is required, a leading
// non-error return is optional. This mirrors jrpc2/handler.New's reflective
// binding, adapted to capnweb's positional-array calling convention in
// place of jrpc2's single JSON object parameter.
func New(fn any) Func {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic("handler.New: not a function")
	}
	if t.NumIn() < 1 || t.In(0) != ctxType {
		panic("handler.New: first parameter must be context.Context")
	}
	if t.NumOut() == 0 || t.NumOut() > 2 || t.Out(t.NumOut()-1) != errType {
		panic("handler.New: must return (result, error) or (error)")
	}
	hasResult := t.NumOut() == 2
	variadic := t.IsVariadic()
	want := t.NumIn() - 1

	return func(ctx context.Context, args []any) (any, error) {
		if (!variadic && len(args) != want) || (variadic && len(args) < want-1) {
			return nil, capnweb.Errorf(capnweb.CodeBadRequest,
				"wrong argument count: got %d, want %d", len(args), want)
		}
		in := make([]reflect.Value, 0, t.NumIn())
		in = append(in, reflect.ValueOf(ctx))
		for i, a := range args {
			var pt reflect.Type
			if variadic && i >= want-1 {
				pt = t.In(t.NumIn() - 1).Elem()
			} else {
				pt = t.In(i + 1)
			}
			av, err := coerce(a, pt)
			if err != nil {
				return nil, capnweb.Errorf(capnweb.CodeBadRequest, "argument %d: %v", i, err)
			}
			in = append(in, av)
		}
		out := v.Call(in)
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		if hasResult {
			return out[0].Interface(), nil
		}
		return nil, nil
	}
}

// coerce converts a decoded wire value (typically produced by
// encoding/json's generic decoding into float64/string/bool/[]any/map) into
// pt, the static parameter type the target method expects.
func coerce(a any, pt reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(pt), nil
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(pt) {
		return av, nil
	}
	if av.Type().ConvertibleTo(pt) {
		return av.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, pt)
}
