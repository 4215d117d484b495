package communication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Action Constants
type Action string

const (
	ActionInit   Action = "init"
	ActionMount  Action = "mount"
	ActionExec   Action = "exec"
	ActionSample Action = "sample"
)

func (a Action) Valid() bool {
	switch a {
	case ActionInit, ActionMount, ActionExec, ActionSample:
		return true
	}
	return false
}

type ReplyAction string

const (
	ReplyCallback ReplyAction = "callback"
	ReplyError    ReplyAction = "error"
)

// Error codes carried in error replies.
type Code string

const (
	CodeBadRequest  Code = "bad_request"
	CodeNotFound    Code = "not_found"
	CodeConflict    Code = "conflict"
	CodeExecFailed  Code = "exec_failed"
	CodeInitFailed  Code = "init_failed"
	CodeNoBoundary  Code = "no_boundary"
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// --- Envelopes ---

type Request struct {
	ID     uint64          `json:"id"`
	Action Action          `json:"action"`
	Config json.RawMessage `json:"config,omitempty"`
}

type Reply struct {
	ID      uint64          `json:"id"`
	Action  ReplyAction     `json:"action"`
	Message json.RawMessage `json:"message,omitempty"`
}

type ErrorMessage struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// --- Payload Structs ---

// Payload is the closed set of request bodies, one per Action.
type Payload interface {
	Action() Action
}

type InitConfig struct {
	Engine string   `json:"engine"`
	Assets []string `json:"assets,omitempty"`
	Debug  bool     `json:"debug,omitempty"`
}

// FileRef names a file. Path (host file) or URI (s3://bucket/key) locate it
// when mounting; only Name is needed afterwards.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type Blob struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type MountConfig struct {
	Files []FileRef `json:"files,omitempty"`
	Blobs []Blob    `json:"blobs,omitempty"`
}

type MountResult struct {
	Slot  uint64            `json:"slot"`
	Paths map[string]string `json:"paths"`
}

type Chunk struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type FileArg struct {
	Name  string `json:"name"`
	Chunk *Chunk `json:"chunk,omitempty"`
}

// ExecArg is either a literal scalar or a reference to a mounted file.
type ExecArg struct {
	Literal any
	File    *FileArg
}

func Literal(v any) ExecArg {
	return ExecArg{Literal: v}
}

func FileByName(name string) ExecArg {
	return ExecArg{File: &FileArg{Name: name}}
}

func FileChunk(name string, start, end int64) ExecArg {
	return ExecArg{File: &FileArg{Name: name, Chunk: &Chunk{Start: start, End: end}}}
}

func (a ExecArg) MarshalJSON() ([]byte, error) {
	if a.File != nil {
		return json.Marshal(a.File)
	}
	return json.Marshal(a.Literal)
}

func (a *ExecArg) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var f FileArg
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return err
		}
		if f.Name == "" {
			return fmt.Errorf("%w: file argument without name", ErrPayloadUnmarshalFailed)
		}
		*a = ExecArg{File: &f}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v.(type) {
	case string, json.Number, bool, nil:
	default:
		return fmt.Errorf("%w: exec argument must be a scalar or file reference", ErrPayloadUnmarshalFailed)
	}
	*a = ExecArg{Literal: v}
	return nil
}

// String renders a literal argument the way it appears on an argv.
func (a ExecArg) String() string {
	switch v := a.Literal.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type ExecArgs []ExecArg

type SampleConfig struct {
	File         FileRef `json:"file"`
	IsValidChunk string  `json:"isValidChunk"`
}

type SampleResult struct {
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Done     bool    `json:"done"`
	Coverage float64 `json:"coverage"`
}

func (InitConfig) Action() Action   { return ActionInit }
func (MountConfig) Action() Action  { return ActionMount }
func (ExecArgs) Action() Action     { return ActionExec }
func (SampleConfig) Action() Action { return ActionSample }
