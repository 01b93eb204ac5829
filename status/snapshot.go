// Package status decodes the robot's binary telemetry frame.
//
// The frame is a fixed little-endian layout of field groups. Short frames
// are normal (older firmware sends fewer groups), so decoding stops at the
// first group that does not fit and leaves every later group nil. A nil
// group means "unknown", never zero.
package status

// FrameSize is the length of a frame carrying every field group.
const FrameSize = 54

// Snapshot is one decoded telemetry frame. Values are never modified after
// Decode returns them.
type Snapshot struct {
	Sequence         *uint16         `json:"msgId,omitempty"`
	ActionRequests   *ActionRequests `json:"actionRequests,omitempty"`
	ToolType         *ToolType       `json:"toolType,omitempty"`
	MotorPower       *MotorPower     `json:"motorPower,omitempty"`
	Homing           *Homing         `json:"homing,omitempty"`
	Phasing          *Phasing        `json:"phasing,omitempty"`
	Grippers         *Grippers       `json:"grippers,omitempty"`
	Ticks            *Ticks          `json:"ticks,omitempty"`
	Position         *Point          `json:"position,omitempty"`
	PlatformPosition *Point          `json:"platformPosition,omitempty"`
	HasMap           *bool           `json:"hasMap,omitempty"`
}

// Complete reports whether the frame carried every field group.
func (s *Snapshot) Complete() bool {
	return s.HasMap != nil
}

// HasActionRequest reports whether flag is set. An absent field reports false.
func (s *Snapshot) HasActionRequest(flag ActionRequests) bool {
	if s == nil || s.ActionRequests == nil {
		return false
	}
	return s.ActionRequests.Has(flag)
}

// InTestMode reports whether the robot has entered robot-test mode.
func (s *Snapshot) InTestMode() bool {
	return s.HasActionRequest(ActionRobotTestsMode)
}

// ReadyForMapping reports whether the robot is waiting for a platform map.
func (s *Snapshot) ReadyForMapping() bool {
	return s.HasActionRequest(ActionRobotMappingMode)
}

// SameSequence reports whether s carries the sequence number prev.
// An absent sequence number on either side never matches.
func (s *Snapshot) SameSequence(prev *uint16) bool {
	if s.Sequence == nil || prev == nil {
		return false
	}
	return *s.Sequence == *prev
}

// View is a display-oriented rendering of a snapshot.
type View struct {
	Sequence         string   `json:"sequence"`
	Tool             string   `json:"tool"`
	ActionRequests   []string `json:"action_requests"`
	InTestMode       bool     `json:"in_test_mode"`
	ReadyForMapping  bool     `json:"ready_for_mapping"`
	HomingAll        string   `json:"homing_all"`
	PhasingAll       string   `json:"phasing_all"`
	UpperGripper     string   `json:"upper_gripper"`
	LowerGripper     string   `json:"lower_gripper"`
	Ticks            string   `json:"ticks"`
	Position         string   `json:"position"`
	PlatformPosition string   `json:"platform_position"`
	HasMap           string   `json:"has_map"`
}

// Describe renders s for operators. Absent fields show as "Unknown" or "N/A".
func Describe(s *Snapshot) View {
	v := View{
		Sequence:     "N/A",
		Tool:         "Unknown",
		HomingAll:    "Unknown",
		PhasingAll:   "Unknown",
		UpperGripper: "Unknown",
		LowerGripper: "Unknown",
		HasMap:       "Unknown",
	}
	if s == nil {
		v.Ticks, v.Position, v.PlatformPosition = "N/A", "N/A", "N/A"
		return v
	}
	if s.Sequence != nil {
		v.Sequence = formatUint(*s.Sequence)
	}
	if s.ToolType != nil {
		v.Tool = s.ToolType.String()
	}
	if s.ActionRequests != nil {
		v.ActionRequests = s.ActionRequests.Names()
	}
	v.InTestMode = s.InTestMode()
	v.ReadyForMapping = s.ReadyForMapping()
	if s.Homing != nil {
		v.HomingAll = s.Homing.All.String()
	}
	if s.Phasing != nil {
		v.PhasingAll = s.Phasing.All.String()
	}
	if s.Grippers != nil {
		v.UpperGripper = s.Grippers.Upper.String()
		v.LowerGripper = s.Grippers.Lower.String()
	}
	v.Ticks = FormatTicks(s.Ticks)
	v.Position = FormatPosition(s.Position)
	v.PlatformPosition = FormatPosition(s.PlatformPosition)
	if s.HasMap != nil {
		if *s.HasMap {
			v.HasMap = "Yes"
		} else {
			v.HasMap = "No"
		}
	}
	return v
}
