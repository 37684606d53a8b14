package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON always outputs RFC3339
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Event types. "message" is used in both directions.
const (
	MessageTypeIdentify = "identify"
	MessageTypeMessage  = "message"
)

// Message is the frame envelope exchanged over the connection
type Message struct {
	// Type identifies the event
	Type string `json:"type"`

	// Payload is decoded according to Type
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp is set on frames the server sends (accepts Unix ms or RFC3339 inbound)
	Timestamp *FlexibleTime `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: &FlexibleTime{Time: time.Now().UTC()},
	}, nil
}

// ParsePayload unmarshals the payload into target
func (m *Message) ParsePayload(target interface{}) error {
	if len(m.Payload) == 0 {
		return errors.New("payload is missing")
	}
	return json.Unmarshal(m.Payload, target)
}

// ChatMessage is the payload of an inbound "message" event
type ChatMessage struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// Delivery is the payload of an outbound "message" event. The recipient learns
// who sent it only through From.
type Delivery struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// decodeIdentify extracts the username from an identify payload. Anything but a
// non-blank JSON string is malformed.
func decodeIdentify(m *Message) (string, error) {
	var username string
	if err := m.ParsePayload(&username); err != nil {
		return "", fmt.Errorf("username must be a string: %w", err)
	}
	if strings.TrimSpace(username) == "" {
		return "", errors.New("username is empty")
	}
	return username, nil
}

// decodeChat extracts a chat message. to, from and content must all be present
// as strings and to must not be empty.
func decodeChat(m *Message) (ChatMessage, error) {
	var raw struct {
		To      *string `json:"to"`
		From    *string `json:"from"`
		Content *string `json:"content"`
	}
	if err := m.ParsePayload(&raw); err != nil {
		return ChatMessage{}, fmt.Errorf("message must be an object of strings: %w", err)
	}
	if raw.To == nil || raw.From == nil || raw.Content == nil {
		return ChatMessage{}, errors.New("message needs to, from and content")
	}
	if *raw.To == "" {
		return ChatMessage{}, errors.New("recipient is empty")
	}
	return ChatMessage{To: *raw.To, From: *raw.From, Content: *raw.Content}, nil
}

// encodeDelivery builds the frame pushed to a recipient
func encodeDelivery(msg ChatMessage) ([]byte, error) {
	frame, err := NewMessage(MessageTypeMessage, Delivery{From: msg.From, Content: msg.Content})
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame)
}
