package communication

import (
	"encoding/json"
	"fmt"
)

func NewRequest(id uint64, action Action, config any) (Request, error) {
	req := Request{ID: id, Action: action}
	if config == nil {
		return req, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrPayloadMarshalFailed, err)
	}
	req.Config = raw
	return req, nil
}

// DecodePayload maps a request onto its typed body. Unknown actions fail with
// ErrInvalidAction.
func DecodePayload(req Request) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch req.Action {
	case ActionInit:
		var c InitConfig
		err = decodeConfig(req.Config, &c)
		payload = c
	case ActionMount:
		var c MountConfig
		err = decodeConfig(req.Config, &c)
		payload = c
	case ActionExec:
		var c ExecArgs
		err = decodeConfig(req.Config, &c)
		payload = c
	case ActionSample:
		var c SampleConfig
		err = decodeConfig(req.Config, &c)
		payload = c
	default:
		return nil, fmt.Errorf("%w <%s>", ErrInvalidAction, req.Action)
	}

	if err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeConfig(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadUnmarshalFailed, err)
	}
	return nil
}

func OkReply(id uint64, message any) (Reply, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrPayloadMarshalFailed, err)
	}
	return Reply{ID: id, Action: ReplyCallback, Message: raw}, nil
}

func ErrorReply(id uint64, code Code, message string) Reply {
	raw, _ := json.Marshal(ErrorMessage{Code: code, Message: message})
	return Reply{ID: id, Action: ReplyError, Message: raw}
}

// DecodeErrorMessage accepts both the structured form and a bare string.
func DecodeErrorMessage(raw json.RawMessage) ErrorMessage {
	var em ErrorMessage
	if err := json.Unmarshal(raw, &em); err == nil && (em.Code != "" || em.Message != "") {
		return em
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ErrorMessage{Code: CodeInternal, Message: s}
	}
	return ErrorMessage{Code: CodeInternal, Message: string(raw)}
}

// --- Frame encoding shared by the transports ---

func MarshalRequest(req Request) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageMarshalFailed, err)
	}
	return b, nil
}

func UnmarshalRequest(b []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return req, nil
}

func MarshalReply(reply Reply) ([]byte, error) {
	b, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageMarshalFailed, err)
	}
	return b, nil
}

func UnmarshalReply(b []byte) (Reply, error) {
	var reply Reply
	if err := json.Unmarshal(b, &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return reply, nil
}
