package capnweb

import (
	"encoding/json"
	"fmt"
)

// frameKind identifies the six top-level message shapes of spec §3.
type frameKind string

const (
	framePush    frameKind = "push"
	framePull    frameKind = "pull"
	frameResolve frameKind = "resolve"
	frameReject  frameKind = "reject"
	frameRelease frameKind = "release"
	frameAbort   frameKind = "abort"
)

// pushFrame asserts a computation, described by Expr, that will yield a
// value at ID (the sender's own freshly minted, negative, export_id).
type pushFrame struct {
	ID   int64
	Expr any
}

// pullFrame requests resolution of a previously pushed result, named by the
// sender's own positive import key.
type pullFrame struct {
	ID int64
}

// resolveFrame completes the export named by ID (the same literal ID the
// originating push carried) with Value.
type resolveFrame struct {
	ID    int64
	Value any
}

// rejectFrame completes the export named by ID with a failure.
type rejectFrame struct {
	ID  int64
	Err *Error
}

// releaseFrame drops Delta references from the import (or, when sent by an
// evaluator giving up a capability it was handed, export) named by ID.
type releaseFrame struct {
	ID    int64
	Delta int
}

// abortFrame terminates the session, reporting Err as the reason.
type abortFrame struct {
	Err *Error
}

func decodeFrame(raw json.RawMessage) (frameKind, []any, error) {
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil {
		return "", nil, fmt.Errorf("capnweb: malformed frame: %w", err)
	}
	if len(arr) == 0 {
		return "", nil, fmt.Errorf("capnweb: empty frame")
	}
	tag, ok := arr[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("capnweb: frame tag must be a string")
	}
	return frameKind(tag), arr[1:], nil
}

func asInt64(v any) (int64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("capnweb: expected numeric ID, got %T", v)
	}
	return int64(f), nil
}
