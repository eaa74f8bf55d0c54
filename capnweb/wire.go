package capnweb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nikileshsa/capnweb-go/capnweb/code"
)

// Bytes is the Go representation of the wire's ["bytes", base64] special
// form (spec §3 "Special forms").
type Bytes []byte

// DateValue is the Go representation of the wire's ["date", millis] special
// form.
type DateValue time.Time

// BigInt is the Go representation of the wire's ["bigint", decimal] special
// form. The decimal digit string is kept verbatim rather than parsed into a
// fixed-width integer type, since the protocol places no bound on magnitude.
type BigInt struct{ Decimal string }

type undefinedType struct{}

// Undefined is the Go representation of the wire's ["undefined"] special
// form, distinct from JSON null.
var Undefined = undefinedType{}

// ExportRef is a decoded reference to a capability the peer is offering us
// (wire tag "export"). LocalKey is our own Imports-table key for it.
type ExportRef struct{ LocalKey int64 }

// ImportRef is a decoded reference to a capability the peer is handing back
// to us, one we ourselves originally exported (wire tag "import").
// LocalKey is our own Exports-table key for it.
type ImportRef struct{ LocalKey int64 }

// PromiseRef is like ExportRef but names a result that has not yet resolved.
type PromiseRef struct{ LocalKey int64 }

// PipelineRef is a decoded reference to a (possibly still-pending) property
// or call result reached by following Path from the value named by TargetID,
// optionally invoked with Args (wire tag "pipeline").
type PipelineRef struct {
	TargetID int64
	Path     []string
	Args     []any
	HasCall  bool
}

// ErrorValue is the decoded form of the wire's ["error", kind, message,
// data?] special form, distinct from the Go `error` returned by Decode
// itself (which reports codec failures, not application errors carried as
// data).
type ErrorValue struct {
	Kind    code.Code
	Message string
	Data    json.RawMessage
}

func (ev ErrorValue) toError() *Error {
	return &Error{Kind: ev.Kind, Message: ev.Message, Data: ev.Data}
}

// encodeValue renders a Go value into its wire JSON form, interning any
// Target it encounters into exports so capabilities can be referenced by ID
// (spec §3 "Export entry", §4.1 "Encode").
func encodeValue(exports *exportsTable, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case undefinedType:
		return []any{"undefined"}, nil
	case Bytes:
		return []any{"bytes", base64.StdEncoding.EncodeToString(x)}, nil
	case DateValue:
		return []any{"date", time.Time(x).UnixMilli()}, nil
	case BigInt:
		return []any{"bigint", x.Decimal}, nil
	case *Error:
		return encodeError(x), nil
	case ErrorValue:
		return encodeError(x.toError()), nil
	case float64:
		return encodeFloat(x), nil
	case float32:
		return encodeFloat(float64(x)), nil
	case *Stub:
		return []any{"import", x.localKey}, nil
	case Target:
		id := exports.intern(x)
		return []any{"export", id}, nil
	case []any:
		// A plain array is never written bare: it's wrapped as the sole
		// member of a one-element outer array, so a tagged special form
		// (also an array whose first element is a string) can never be
		// confused with application data (spec §3 invariant 5, §8 scenario
		// (f)).
		inner := make([]any, len(x))
		for i, e := range x {
			ev, err := encodeValue(exports, e)
			if err != nil {
				return nil, err
			}
			inner[i] = ev
		}
		return []any{inner}, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := encodeValue(exports, e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func encodeFloat(f float64) any {
	switch {
	case math.IsInf(f, 1):
		return []any{"inf"}
	case math.IsInf(f, -1):
		return []any{"-inf"}
	case math.IsNaN(f):
		return []any{"nan"}
	default:
		return f
	}
}

func encodeError(e *Error) any {
	out := []any{"error", string(e.Kind), e.Message}
	if len(e.Data) > 0 {
		out = append(out, json.RawMessage(e.Data))
	}
	return out
}

// decodeValue parses a decoded-JSON tree (as produced by encoding/json into
// any) into its capnweb-level representation, resolving import/export/
// promise/pipeline references against imports (spec §4.1 "Decode").
func decodeValue(imports *importsTable, v any) (any, error) {
	switch x := v.(type) {
	case []any:
		if tag, ok := tagOf(x); ok {
			return decodeSpecialForm(imports, tag, x)
		}
		// Not a tagged special form, so per spec §4.1 this must be the
		// one-element outer wrapping of a plain array; any other shape is
		// a protocol error.
		if len(x) != 1 {
			return nil, fmt.Errorf("capnweb: invalid array on wire: not a special form and not a one-element array escape (len=%d)", len(x))
		}
		inner, ok := x[0].([]any)
		if !ok {
			return nil, fmt.Errorf("capnweb: invalid array escape: expected an array wrapping a list, got %T", x[0])
		}
		out := make([]any, len(inner))
		for i, e := range inner {
			dv, err := decodeValue(imports, e)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			dv, err := decodeValue(imports, e)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

func tagOf(arr []any) (string, bool) {
	if len(arr) == 0 {
		return "", false
	}
	s, ok := arr[0].(string)
	if !ok {
		return "", false
	}
	switch s {
	case "undefined", "bytes", "date", "bigint", "export", "import", "promise",
		"pipeline", "error", "inf", "-inf", "nan":
		return s, true
	default:
		return "", false
	}
}

func decodeSpecialForm(imports *importsTable, tag string, arr []any) (any, error) {
	switch tag {
	case "undefined":
		return Undefined, nil
	case "inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	case "bytes":
		s, _ := arr[1].(string)
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("capnweb: invalid bytes special form: %w", err)
		}
		return Bytes(raw), nil
	case "date":
		ms, ok := arr[1].(float64)
		if !ok {
			return nil, fmt.Errorf("capnweb: invalid date special form")
		}
		return DateValue(time.UnixMilli(int64(ms))), nil
	case "bigint":
		s, _ := arr[1].(string)
		return BigInt{Decimal: s}, nil
	case "error":
		kind, _ := arr[1].(string)
		msg, _ := arr[2].(string)
		ev := ErrorValue{Kind: code.Code(kind), Message: msg}
		if len(arr) > 3 {
			raw, err := json.Marshal(arr[3])
			if err == nil {
				ev.Data = raw
			}
		}
		return ev, nil
	case "export":
		wire := int64(arr[1].(float64))
		return ExportRef{LocalKey: imports.acquire(-wire)}, nil
	case "import":
		wire := int64(arr[1].(float64))
		return ImportRef{LocalKey: -wire}, nil
	case "promise":
		wire := int64(arr[1].(float64))
		return PromiseRef{LocalKey: imports.acquire(-wire)}, nil
	case "pipeline":
		wire := int64(arr[1].(float64))
		ref := PipelineRef{TargetID: wire}
		if len(arr) > 2 && arr[2] != nil {
			for _, p := range arr[2].([]any) {
				ref.Path = append(ref.Path, fmt.Sprint(p))
			}
		}
		if len(arr) > 3 && arr[3] != nil {
			ref.HasCall = true
			// args is itself a plain-array value (the argument list), so
			// it carries the same one-element escape as any other array
			// value and must be unwrapped via decodeValue, not iterated
			// raw (spec §8 scenario (c): args field `[[]]` for a no-arg
			// call, `[["alice"]]` for a single string argument).
			argsVal, err := decodeValue(imports, arr[3])
			if err != nil {
				return nil, err
			}
			argList, ok := argsVal.([]any)
			if !ok {
				return nil, fmt.Errorf("capnweb: pipeline args must decode to a list, got %T", argsVal)
			}
			ref.Args = argList
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("capnweb: unknown special form tag %q", tag)
	}
}

// marshalFrame JSON-encodes a top-level frame (push/pull/resolve/reject/
// release/abort), each of which is itself a tagged array.
func marshalFrame(tag string, fields ...any) ([]byte, error) {
	arr := make([]any, 0, len(fields)+1)
	arr = append(arr, tag)
	arr = append(arr, fields...)
	return json.Marshal(arr)
}
