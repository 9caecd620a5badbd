package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const TypeChat = "chat"

var ErrNotChat = errors.New("not a chat message")

// ChatMessage is the data channel chat payload.
type ChatMessage struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
	From    string `json:"from" msgpack:"from"`
}

func NewChat(from, text string) ChatMessage {
	return ChatMessage{Type: TypeChat, Message: text, From: from}
}

// Codec encodes chat messages for the data channel. Binary reports whether
// encoded frames must be sent as binary messages.
type Codec interface {
	Encode(ChatMessage) ([]byte, error)
	Binary() bool
}

type JSON struct{}

func (JSON) Encode(m ChatMessage) ([]byte, error) { return json.Marshal(m) }
func (JSON) Binary() bool                         { return false }

type Msgpack struct{}

func (Msgpack) Encode(m ChatMessage) ([]byte, error) { return msgpack.Marshal(m) }
func (Msgpack) Binary() bool                         { return true }

// ByName returns the codec for a config value; "" selects JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("unknown chat codec %q", name)
}

// DecodeChat decodes a frame of either encoding. Text frames are JSON and
// binary frames are msgpack, so peers with different settings interoperate.
func DecodeChat(data []byte, binary bool) (ChatMessage, error) {
	var m ChatMessage
	var err error
	if binary {
		err = msgpack.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return ChatMessage{}, fmt.Errorf("decode chat: %w", err)
	}
	if m.Type != TypeChat {
		return ChatMessage{}, ErrNotChat
	}
	return m, nil
}
