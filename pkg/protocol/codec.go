package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrMalformed   = errors.New("protocol: malformed envelope")
	ErrUnknownType = errors.New("protocol: unknown envelope type")
)

// Encode serializes an outbound envelope to its wire form.
func Encode(env Outbound) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", env.OutboundType(), err)
	}
	return data, nil
}

// Decode parses an inbound frame into its typed envelope. Unknown types
// return ErrUnknownType; frames that are not valid JSON objects or that fail
// to match the envelope shape return ErrMalformed. Callers are expected to
// drop failed frames and keep reading.
func Decode(data []byte) (Inbound, error) {
	var head Meta
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env Inbound
	switch head.Type {
	case TypeAuthSuccess:
		env = &AuthSuccess{}
	case TypeMessage:
		env = &MessageEvent{}
	case TypeMessageEdit:
		env = &MessageEdited{}
	case TypeMessageDelete:
		env = &MessageDeleted{}
	case TypeMessageForward:
		env = &MessageForwarded{}
	case TypeTypingStart, TypeTypingStop:
		env = &TypingEvent{}
	case TypeMarkReadSuccess:
		env = &MarkReadSuccess{}
	case TypeMessageRead:
		env = &MessageRead{}
	case TypeUserOnline, TypeUserOffline:
		env = &PresenceEvent{}
	case TypeMessageAck:
		env = &MessageAck{}
	case TypePong:
		env = &Pong{}
	case TypeError:
		env = &ServerError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return env, nil
}

// DecodeOutbound parses a client → server frame into its typed envelope. It is
// the server-side counterpart of Decode and exists for test doubles and the
// bundled development server.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env Outbound
	switch head.Type {
	case TypeAuth:
		env = &Auth{}
	case TypeMessage:
		env = &MessageSend{}
	case TypeMessageEdit:
		env = &MessageEdit{}
	case TypeMessageDelete:
		env = &MessageDelete{}
	case TypeMessageForward:
		env = &MessageForward{}
	case TypeTypingStart, TypeTypingStop:
		env = &Typing{}
	case TypeMarkRead:
		env = &MarkRead{}
	case TypeSubscribe:
		env = &Subscribe{}
	case TypeUnsubscribe:
		env = &Unsubscribe{}
	case TypeAck:
		env = &Ack{}
	case TypePing:
		env = &Ping{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return env, nil
}
