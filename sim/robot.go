// Package sim runs a simulated robot on the in-memory transport so the
// service can be driven end to end without hardware.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"robolink/command"
	"robolink/gatt"
	"robolink/gatt/gatttest"
	"robolink/status"
)

// Robot is a simulated robot advertising the firmware's services. Each
// status read returns a full frame with a fresh sequence number unless the
// robot is frozen.
type Robot struct {
	name string
	tr   *gatttest.Transport
	dev  *gatttest.Device

	mu        sync.Mutex
	seq       uint16
	frozen    bool
	actions   status.ActionRequests
	tool      status.ToolType
	motors    status.MotorPower
	homing    status.Homing
	phasing   status.Phasing
	grippers  status.Grippers
	ticks     status.Ticks
	position  status.Point
	platform  status.Point
	hasMap    bool
	role      byte
	task      command.TaskType
	mapMeta   command.MapMetadata
	locations []string
}

// New creates a robot advertising name.
func New(name string) *Robot {
	r := &Robot{
		name:     name,
		tr:       gatttest.New(),
		tool:     status.ToolGripper,
		platform: status.Point{X: 1.25, Y: 0, Z: 0.4},
		grippers: status.Grippers{Upper: status.GripperClose, Lower: status.GripperClose},
	}
	r.dev = r.tr.AddDevice(name)
	r.install()
	return r
}

// Transport returns the transport the robot is reachable on.
func (r *Robot) Transport() gatt.Transport { return r.tr }

// Name returns the advertised name.
func (r *Robot) Name() string { return r.name }

// Freeze stops the sequence number from advancing, as a wedged controller
// would.
func (r *Robot) Freeze(frozen bool) {
	r.mu.Lock()
	r.frozen = frozen
	r.mu.Unlock()
}

// Locations returns the last locations list received, one entry per
// location.
func (r *Robot) Locations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.locations...)
}

// Metadata returns the last map metadata received.
func (r *Robot) Metadata() command.MapMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapMeta
}

func (r *Robot) install() {
	rw := gatt.Props{Read: true, Write: true}
	w := gatt.Props{Write: true}
	wnr := gatt.Props{WriteWithoutResponse: true}

	st := r.dev.AddCharacteristic(command.GetStatus.Service, command.GetStatus.Characteristic, gatt.Props{Read: true, Notify: true})
	st.OnRead(func() ([]byte, error) { return r.frame(), nil })

	role := r.dev.AddCharacteristic(command.GetRole.Service, command.GetRole.Characteristic, gatt.Props{Read: true})
	role.OnRead(func() ([]byte, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return []byte{r.role}, nil
	})
	task := r.dev.AddCharacteristic(command.GetCurrentTaskState.Service, command.GetCurrentTaskState.Characteristic, gatt.Props{Read: true})
	task.OnRead(func() ([]byte, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return []byte(fmt.Sprintf(`{"TaskType":%d}`, int(r.task))), nil
	})
	for _, ep := range []command.Endpoint{command.GetGripperPWM, command.GetUpperGripperPWM, command.GetLowerGripperPWM, command.GetMotionParams} {
		r.dev.AddCharacteristic(ep.Service, ep.Characteristic, gatt.Props{Read: true}).SetValue([]byte{0, 0})
	}

	r.handle(command.CmdHoming, w, func([]byte) error {
		r.homing = status.Homing{A: status.HomingOK, B: status.HomingOK, C: status.HomingOK, All: status.HomingOK}
		r.phasing = status.Phasing{A: status.PhasingDone, B: status.PhasingDone, C: status.PhasingDone, All: status.PhasingDone}
		r.motors = status.MotorPower{A: true, B: true, C: true}
		return nil
	})
	r.handle(command.CmdStopTask, wnr, func([]byte) error {
		r.task = command.TaskUnknown
		r.actions &^= status.ActionRobotTestsMode | status.ActionRobotMappingMode
		return nil
	})
	r.handle(command.CmdGripper, w, func(b []byte) error {
		var c command.Gripper
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		g := status.GripperClose
		if c.Open {
			g = status.GripperOpen
		}
		r.grippers = status.Grippers{Upper: g, Lower: g}
		return nil
	})
	r.handle(command.CmdStopMove, w, func(b []byte) error {
		var c command.StopMove
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		switch c.Motor {
		case command.MotorA:
			r.motors.A = false
		case command.MotorB:
			r.motors.B = false
		case command.MotorC:
			r.motors.C = false
		default:
			r.motors = status.MotorPower{}
		}
		return nil
	})
	r.handle(command.CmdAssignTask, w, func(b []byte) error {
		var c command.AssignTask
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		r.task = c.TaskType
		r.ticks = status.Ticks{A: int32(c.LocationID) * 1000, B: 0, C: 0}
		r.position = status.Point{X: float32(c.LocationID) * 0.5}
		return nil
	})
	r.handle(command.CmdPrepareForTest, w, func(b []byte) error {
		var c command.PrepareForTest
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		r.role = byte(c.RobotNumber)
		r.actions |= status.ActionRobotTestsMode
		return nil
	})
	r.handle(command.CmdPrepareForMapping, w, func(b []byte) error {
		var c command.PrepareForMapping
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		r.role = byte(c.Role)
		r.actions |= status.ActionRobotMappingMode
		return nil
	})
	r.handle(command.SetPlatformMap1, rw, func(b []byte) error {
		var c command.MapMetadata
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		r.mapMeta = c
		return nil
	})
	r.handle(command.SetPlatformMap2, rw, func(b []byte) error {
		var c command.MapLocations
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		if c.P == "" {
			return errors.New("empty locations list")
		}
		r.locations = strings.Split(c.P, "|")
		r.hasMap = true
		r.actions &^= status.ActionRobotMappingMode
		return nil
	})
}

// handle registers fn for writes to ep. fn runs with the robot locked.
func (r *Robot) handle(ep command.Endpoint, p gatt.Props, fn func(payload []byte) error) {
	c := r.dev.AddCharacteristic(ep.Service, ep.Characteristic, p)
	c.OnWrite(func(data []byte) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if err := fn(data); err != nil {
			log.Printf("sim: %s rejected %q: %v", ep.Name, data, err)
			return err
		}
		return nil
	})
}

func (r *Robot) frame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.frozen {
		r.seq++
	}
	seq, actions, tool := r.seq, r.actions, r.tool
	motors, homing, phasing, grippers := r.motors, r.homing, r.phasing, r.grippers
	ticks, pos, plat, hasMap := r.ticks, r.position, r.platform, r.hasMap
	return status.Encode(&status.Snapshot{
		Sequence:         &seq,
		ActionRequests:   &actions,
		ToolType:         &tool,
		MotorPower:       &motors,
		Homing:           &homing,
		Phasing:          &phasing,
		Grippers:         &grippers,
		Ticks:            &ticks,
		Position:         &pos,
		PlatformPosition: &plat,
		HasMap:           &hasMap,
	})
}
