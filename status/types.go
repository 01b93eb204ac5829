package status

import "fmt"

// ToolType is the tool currently held by the arm.
type ToolType uint8

const (
	ToolUnknown     ToolType = 0
	ToolGripper     ToolType = 1
	ToolVacuum      ToolType = 2
	ToolBrushSpray  ToolType = 3
	ToolCameraSpray ToolType = 4
)

func (t ToolType) String() string {
	switch t {
	case ToolGripper:
		return "Gripper"
	case ToolVacuum:
		return "Vacuum"
	case ToolBrushSpray:
		return "Brush Spray"
	case ToolCameraSpray:
		return "Camera Spray"
	}
	return "Unknown"
}

// HomingStatus is the per-axis homing result reported by the controller.
type HomingStatus int8

const (
	HomingNotDone HomingStatus = 0
	HomingFail    HomingStatus = -2
	HomingOK      HomingStatus = 100
)

func (h HomingStatus) String() string {
	switch h {
	case HomingOK:
		return "OK"
	case HomingFail:
		return "Failed"
	case HomingNotDone:
		return "Not Done"
	}
	return "Unknown"
}

// PhasingStatus is the per-axis motor auto-phasing state.
type PhasingStatus uint8

const (
	PhasingNotDone   PhasingStatus = 0
	PhasingInProcess PhasingStatus = 1
	PhasingDone      PhasingStatus = 2
)

func (p PhasingStatus) String() string {
	switch p {
	case PhasingDone:
		return "Done"
	case PhasingInProcess:
		return "In Progress"
	case PhasingNotDone:
		return "Not Done"
	}
	return "Unknown"
}

// GripperStatus is the open/closed state of one gripper.
type GripperStatus uint8

const (
	GripperOpen  GripperStatus = 0
	GripperClose GripperStatus = 1
)

func (g GripperStatus) String() string {
	switch g {
	case GripperOpen:
		return "Open"
	case GripperClose:
		return "Closed"
	}
	return "Unknown"
}

// ActionRequests is the bit set of pending robot action requests.
type ActionRequests uint8

const (
	ActionBrushSpray                ActionRequests = 1
	ActionCameraSpray               ActionRequests = 2
	ActionVacuum                    ActionRequests = 4
	ActionMilkMeterStart            ActionRequests = 8
	ActionUdderLearningData         ActionRequests = 16
	ActionStallLocationLearningData ActionRequests = 32
	ActionRobotTestsMode            ActionRequests = 64
	ActionRobotMappingMode          ActionRequests = 128
)

// Has reports whether every bit of flag is set.
func (a ActionRequests) Has(flag ActionRequests) bool {
	return a&flag == flag && flag != 0
}

var actionNames = []struct {
	flag ActionRequests
	name string
}{
	{ActionBrushSpray, "BrushSpray"},
	{ActionCameraSpray, "CameraSpray"},
	{ActionVacuum, "Vacuum"},
	{ActionMilkMeterStart, "MilkMeterStart"},
	{ActionUdderLearningData, "UdderLearningData"},
	{ActionStallLocationLearningData, "StallLocationLearningData"},
	{ActionRobotTestsMode, "RobotTestsMode"},
	{ActionRobotMappingMode, "RobotMappingMode"},
}

// Names lists the set flags in bit order.
func (a ActionRequests) Names() []string {
	var out []string
	for _, n := range actionNames {
		if a.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

// MotorPower is the power state of the three axis motors.
type MotorPower struct {
	A bool `json:"a"`
	B bool `json:"b"`
	C bool `json:"c"`
}

// Homing holds the homing status of each axis and the overall result.
type Homing struct {
	A   HomingStatus `json:"a"`
	B   HomingStatus `json:"b"`
	C   HomingStatus `json:"c"`
	All HomingStatus `json:"all"`
}

// Phasing holds the phasing status of each axis and the overall result.
type Phasing struct {
	A   PhasingStatus `json:"a"`
	B   PhasingStatus `json:"b"`
	C   PhasingStatus `json:"c"`
	All PhasingStatus `json:"all"`
}

// Grippers holds the upper and lower gripper states.
type Grippers struct {
	Upper GripperStatus `json:"upper"`
	Lower GripperStatus `json:"lower"`
}

// Ticks is an axis position in encoder ticks.
type Ticks struct {
	A int32 `json:"a"`
	B int32 `json:"b"`
	C int32 `json:"c"`
}

func (t Ticks) String() string {
	return fmt.Sprintf("A: %d, B: %d, C: %d", t.A, t.B, t.C)
}

// Point is a position in meters.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (p Point) String() string {
	return fmt.Sprintf("X: %.2f, Y: %.2f, Z: %.2f", p.X, p.Y, p.Z)
}

// FormatPosition renders p with two decimals, or "N/A" when absent.
func FormatPosition(p *Point) string {
	if p == nil {
		return "N/A"
	}
	return p.String()
}

// FormatTicks renders t, or "N/A" when absent.
func FormatTicks(t *Ticks) string {
	if t == nil {
		return "N/A"
	}
	return t.String()
}
