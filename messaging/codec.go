package messaging

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes envelopes and their payloads.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	encodeEnvelope(e *Envelope) ([]byte, error)
	decodeEnvelope(data []byte) (*Envelope, error)
}

// CodecByName returns the codec for "json" (or "") and "cbor".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	}
	return nil, fmt.Errorf("unknown messaging codec: %s", name)
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

type jsonCodec struct{}

type jsonWire struct {
	Header
	Payload json.RawMessage `json:"p"`
}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) encodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(jsonWire{Header: e.Header, Payload: e.Payload})
}

func (c jsonCodec) decodeEnvelope(data []byte) (*Envelope, error) {
	var w jsonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Envelope{Header: w.Header, Payload: []byte(w.Payload), codec: c}, nil
}

// cborEnc uses Core Deterministic Encoding; the same envelope always
// produces the same bytes.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("messaging: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("messaging: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

type cborWire struct {
	Header
	Payload cbor.RawMessage `json:"p"`
}

func (cborCodec) Name() string                       { return "cbor" }
func (cborCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cborDec.Unmarshal(data, v) }

func (cborCodec) encodeEnvelope(e *Envelope) ([]byte, error) {
	return cborEnc.Marshal(cborWire{Header: e.Header, Payload: cbor.RawMessage(e.Payload)})
}

func (c cborCodec) decodeEnvelope(data []byte) (*Envelope, error) {
	var w cborWire
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Envelope{Header: w.Header, Payload: []byte(w.Payload), codec: c}, nil
}
