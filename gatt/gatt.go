// Package gatt defines the transport abstraction the robot link is built on:
// a connected device exposing characteristics grouped under services, each
// supporting read, write and disconnect notification.
package gatt

import (
	"context"
	"strings"
)

// Props describes the operations a characteristic declares.
type Props struct {
	Read                 bool `json:"read"`
	Write                bool `json:"write"`
	WriteWithoutResponse bool `json:"write_without_response"`
	Notify               bool `json:"notify"`
}

// ParseFlags builds Props from BlueZ-style characteristic flag strings.
func ParseFlags(flags []string) Props {
	var p Props
	for _, f := range flags {
		switch strings.ToLower(f) {
		case "read":
			p.Read = true
		case "write":
			p.Write = true
		case "write-without-response":
			p.WriteWithoutResponse = true
		case "notify", "indicate":
			p.Notify = true
		}
	}
	return p
}

// Channel is a resolved characteristic on a connected link.
type Channel interface {
	Service() string
	UUID() string
	Props() Props
}

// Request selects the device to connect to. An empty Name accepts any device
// that exposes at least one of Services.
type Request struct {
	Name     string
	Services []string
}

// Transport opens links to devices.
type Transport interface {
	Connect(ctx context.Context, req Request) (Link, error)
}

// Link is one established device connection.
type Link interface {
	// Name is the advertised name of the connected device.
	Name() string
	Channel(ctx context.Context, service, uuid string) (Channel, error)
	Read(ctx context.Context, ch Channel) ([]byte, error)
	Write(ctx context.Context, ch Channel, data []byte, withResponse bool) error
	// OnDisconnect registers fn to run once if the device drops the link.
	// It is not called for a Close initiated locally.
	OnDisconnect(fn func(err error))
	Close() error
}

// EqualUUID compares characteristic or service UUIDs case-insensitively.
func EqualUUID(a, b string) bool {
	return strings.EqualFold(a, b)
}
