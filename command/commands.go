// Package command encodes typed robot commands and writes them to their
// characteristics over the serialized link.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks a command rejected before anything was written.
var ErrInvalid = errors.New("invalid command")

// Command is one write to one characteristic.
type Command interface {
	Endpoint() Endpoint
	Payload() ([]byte, error)
}

type validator interface {
	Validate() error
}

// TimestampLayout matches the ISO form the robot expects in
// prepare-for-mapping: UTC with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// AssignTask sends the robot to a location to perform a task.
type AssignTask struct {
	LocationID int      `json:"LocationId"`
	TaskType   TaskType `json:"TaskType"`
}

func (AssignTask) Endpoint() Endpoint         { return CmdAssignTask }
func (c AssignTask) Payload() ([]byte, error) { return marshal(c) }

func (c AssignTask) Validate() error {
	if !c.TaskType.Valid() {
		return fmt.Errorf("%w: unknown task type %d", ErrInvalid, int(c.TaskType))
	}
	if c.LocationID < 0 {
		return fmt.Errorf("%w: negative location id", ErrInvalid)
	}
	return nil
}

// StopMove halts motion on one motor group.
type StopMove struct {
	Motor MotorType `json:"motor"`
}

func (StopMove) Endpoint() Endpoint         { return CmdStopMove }
func (c StopMove) Payload() ([]byte, error) { return marshal(c) }

func (c StopMove) Validate() error {
	if !c.Motor.Valid() {
		return fmt.Errorf("%w: unknown motor %d", ErrInvalid, int(c.Motor))
	}
	return nil
}

// StopTask aborts the current task.
type StopTask struct{}

func (StopTask) Endpoint() Endpoint       { return CmdStopTask }
func (StopTask) Payload() ([]byte, error) { return []byte("{}"), nil }

// Homing runs the homing sequence on all axes.
type Homing struct{}

func (Homing) Endpoint() Endpoint       { return CmdHoming }
func (Homing) Payload() ([]byte, error) { return []byte("{}"), nil }

// Gripper opens or closes both grippers.
type Gripper struct {
	Open bool `json:"open"`
}

func (Gripper) Endpoint() Endpoint         { return CmdGripper }
func (c Gripper) Payload() ([]byte, error) { return marshal(c) }

// PrepareForTest puts the robot into test mode for the given role.
type PrepareForTest struct {
	RobotNumber      int  `json:"robotNumber"`
	NegativePlatform bool `json:"negativePlatform"`
}

func (PrepareForTest) Endpoint() Endpoint         { return CmdPrepareForTest }
func (c PrepareForTest) Payload() ([]byte, error) { return marshal(c) }

func (c PrepareForTest) Validate() error {
	return validRole(c.RobotNumber)
}

// PrepareForMapping puts the robot into mapping mode. A zero Timestamp is
// replaced by the time the payload is built.
type PrepareForMapping struct {
	Role               int       `json:"role"`
	IsNegativePlatform bool      `json:"isNegativePlatform"`
	DeviceName         string    `json:"deviceName"`
	Timestamp          time.Time `json:"-"`
}

func (PrepareForMapping) Endpoint() Endpoint { return CmdPrepareForMapping }

func (c PrepareForMapping) Payload() ([]byte, error) {
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return marshal(struct {
		Role               int    `json:"role"`
		IsNegativePlatform bool   `json:"isNegativePlatform"`
		DeviceName         string `json:"deviceName"`
		Timestamp          string `json:"timestamp"`
	}{c.Role, c.IsNegativePlatform, c.DeviceName, ts.UTC().Format(TimestampLayout)})
}

func (c PrepareForMapping) Validate() error {
	return validRole(c.Role)
}

// MapMetadata is the first half of a platform map transfer.
type MapMetadata struct {
	IsNegative     bool   `json:"IsNegative"`
	MapName        string `json:"MapName"`
	FarmID         int    `json:"FarmId"`
	SiteName       string `json:"SiteName"`
	PlatformNumber int    `json:"PlatformNumber"`
}

func (MapMetadata) Endpoint() Endpoint         { return SetPlatformMap1 }
func (c MapMetadata) Payload() ([]byte, error) { return marshal(c) }

// MapLocations is the second half of a platform map transfer: every
// location as "Type,ID,X,Y,Z", joined by "|".
type MapLocations struct {
	P string `json:"P"`
}

func (MapLocations) Endpoint() Endpoint         { return SetPlatformMap2 }
func (c MapLocations) Payload() ([]byte, error) { return marshal(c) }

func validRole(n int) error {
	if n < 1 || n > 7 {
		return fmt.Errorf("%w: robot role %d out of range 1-7", ErrInvalid, n)
	}
	return nil
}

// marshal encodes v without HTML escaping and without a trailing newline.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Validate runs c's own checks, if it has any.
func Validate(c Command) error {
	if v, ok := c.(validator); ok {
		return v.Validate()
	}
	return nil
}

var decoders = map[string]func() Command{
	CmdAssignTask.Name:        func() Command { return &AssignTask{} },
	CmdStopMove.Name:          func() Command { return &StopMove{} },
	CmdStopTask.Name:          func() Command { return &StopTask{} },
	CmdHoming.Name:            func() Command { return &Homing{} },
	CmdGripper.Name:           func() Command { return &Gripper{} },
	CmdPrepareForTest.Name:    func() Command { return &PrepareForTest{} },
	CmdPrepareForMapping.Name: func() Command { return &PrepareForMapping{} },
}

// Decode builds the command registered under name from its JSON body. An
// empty body is accepted for commands without fields.
func Decode(name string, body []byte) (Command, error) {
	mk, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalid, name)
	}
	c := mk()
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, c); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	// Commands are values; strip the pointer so callers get the same type
	// they would construct directly.
	switch v := c.(type) {
	case *AssignTask:
		return *v, nil
	case *StopMove:
		return *v, nil
	case *StopTask:
		return *v, nil
	case *Homing:
		return *v, nil
	case *Gripper:
		return *v, nil
	case *PrepareForTest:
		return *v, nil
	case *PrepareForMapping:
		return *v, nil
	}
	return c, nil
}

// Names lists the commands accepted by Decode.
func Names() []string {
	return []string{
		CmdAssignTask.Name, CmdStopMove.Name, CmdStopTask.Name, CmdHoming.Name,
		CmdGripper.Name, CmdPrepareForTest.Name, CmdPrepareForMapping.Name,
	}
}
