package command

import (
	"sort"
	"strings"
)

// Service UUIDs exposed by the robot firmware.
const (
	CommandService  = "f1d19eaf-37a1-48c2-b226-e9f9e817ccb0"
	SettingsService = "d4723a2d-37c8-4197-8a4b-3974084cd054"
	StatusService   = "5c3b4a45-41a2-4d28-afc6-b593a85a3580"
)

// Endpoint is one characteristic on the robot.
type Endpoint struct {
	Name           string `json:"name"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
}

func (e Endpoint) String() string {
	return e.Name
}

func cmd(name, suffix string) Endpoint {
	return Endpoint{Name: name, Service: CommandService, Characteristic: "f1d19eaf-37a1-48c2-b226-e9f9e817" + suffix}
}

func set(name, suffix string) Endpoint {
	return Endpoint{Name: name, Service: SettingsService, Characteristic: "d4723a2d-37c8-4197-8a4b-3974084" + suffix}
}

func get(name, suffix string) Endpoint {
	return Endpoint{Name: name, Service: StatusService, Characteristic: "5c3b4a45-41a2-4d28-afc6-b593a85a" + suffix}
}

// Command service.
var (
	CmdPhasing                  = cmd("phasing", "ccb1")
	CmdHomingPerAxes            = cmd("homing-per-axes", "ccb2")
	CmdMove                     = cmd("move", "ccb3")
	CmdMoveRepeat               = cmd("move-repeat", "ccb4")
	CmdMotor                    = cmd("motor", "ccb5")
	CmdStopMove                 = cmd("stop-move", "ccb6")
	CmdGripper                  = cmd("gripper", "ccb7")
	CmdAssignTask               = cmd("assign-task", "ccb8")
	CmdPrepareForMapping        = cmd("prepare-for-mapping", "ccb9")
	CmdHoming                   = cmd("homing", "ccc0")
	CmdStopTask                 = cmd("stop-task", "ccc1")
	CmdExercise                 = cmd("exercise", "ccc2")
	CmdGripperRepeat            = cmd("gripper-repeat", "ccc3")
	CmdWash                     = cmd("wash", "ccc5")
	CmdAssumeWashPoint          = cmd("assume-wash-point", "ccc6")
	CmdWashSensorMapping        = cmd("wash-sensor-mapping", "ccc7")
	CmdTakeReturnRepeat         = cmd("take-return-repeat", "ccc8")
	CmdCheckLED                 = cmd("check-led", "ccc9")
	CmdPrepareMappingForTesting = cmd("prepare-mapping-for-testing", "ccca")
	CmdPrepareForTest           = cmd("prepare-for-test", "cccb")
	CmdMultiAxisMove            = cmd("multi-axis-move", "cccc")
)

// Settings service.
var (
	SetGripperPWM    = set("gripper-pwm", "cd055")
	SetRole          = set("role", "cd056")
	SetMotionParams  = set("motion-params", "cd057")
	SetIsNegative    = set("is-negative", "cd058")
	SetStationNumber = set("station-number", "cd059")
	SetPlatformMap1  = set("platform-map-1", "cd060")
	SetPlatformMap2  = set("platform-map-2", "cd061")
)

// Status service.
var (
	GetStatus           = get("status", "3583")
	GetRole             = get("role", "3584")
	GetGripperPWM       = get("gripper-pwm", "3585")
	GetUpperGripperPWM  = get("upper-gripper-pwm", "3586")
	GetLowerGripperPWM  = get("lower-gripper-pwm", "3587")
	GetMotionParams     = get("motion-params", "3588")
	GetCurrentTaskState = get("current-task-state", "3589")
)

var readbacks = map[string]Endpoint{}

func init() {
	for _, e := range []Endpoint{GetStatus, GetRole, GetGripperPWM, GetUpperGripperPWM, GetLowerGripperPWM, GetMotionParams, GetCurrentTaskState} {
		readbacks[e.Name] = e
	}
}

// Readback looks up a status-service characteristic by name.
func Readback(name string) (Endpoint, bool) {
	e, ok := readbacks[strings.ToLower(name)]
	return e, ok
}

// ReadbackNames lists the names accepted by Readback.
func ReadbackNames() []string {
	names := make([]string, 0, len(readbacks))
	for n := range readbacks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
