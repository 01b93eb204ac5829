package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope format version.
const Version = 1

// Header is the routing part of an envelope.
type Header struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Src       string    `json:"src"`
	Timestamp time.Time `json:"ts"`
	CorID     string    `json:"cor,omitempty"`
}

// Envelope wraps every message robolink publishes or accepts. The payload
// stays encoded until DecodePayload.
type Envelope struct {
	Header
	Payload []byte
	codec   Codec
}

// NewEnvelope creates an outbound envelope with a fresh id.
func NewEnvelope(c Codec, msgType, src string, payload any) (*Envelope, error) {
	p, err := c.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Envelope{
		Header: Header{
			Version:   Version,
			Type:      msgType,
			ID:        uuid.New().String(),
			Src:       src,
			Timestamp: time.Now().UTC(),
		},
		Payload: p,
		codec:   c,
	}, nil
}

// NewReply creates a reply envelope, setting CorID to the original message ID.
func NewReply(c Codec, msgType, src, correlationID string, payload any) (*Envelope, error) {
	env, err := NewEnvelope(c, msgType, src, payload)
	if err != nil {
		return nil, err
	}
	env.CorID = correlationID
	return env, nil
}

// Encode serializes the envelope with its codec.
func (e *Envelope) Encode() ([]byte, error) {
	if e.codec == nil {
		return nil, errors.New("envelope has no codec")
	}
	return e.codec.encodeEnvelope(e)
}

// DecodePayload unmarshals the payload into target.
func (e *Envelope) DecodePayload(target any) error {
	return e.codec.Unmarshal(e.Payload, target)
}

// Decode parses data produced by Encode with the same codec.
func Decode(c Codec, data []byte) (*Envelope, error) {
	env, err := c.decodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Type == "" {
		return nil, errors.New("envelope has no type")
	}
	return env, nil
}
