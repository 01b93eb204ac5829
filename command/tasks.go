package command

import "fmt"

// TaskType is the firmware's task identifier used by AssignTask.
type TaskType int

const (
	TaskUnknown                          TaskType = 0
	TaskGoingToStall                     TaskType = 1
	TaskGoingToParking                   TaskType = 2
	TaskAttaching                        TaskType = 3
	TaskStoppingMotion                   TaskType = 5
	TaskGoingToBrushStation              TaskType = 6
	TaskTakeBrusher                      TaskType = 7
	TaskReturnBrusher                    TaskType = 8
	TaskBrush                            TaskType = 9
	TaskGoingToDipperStation             TaskType = 10
	TaskTakeDipper                       TaskType = 11
	TaskReturnDipper                     TaskType = 12
	TaskDip                              TaskType = 13
	TaskDoHoming                         TaskType = 14
	TaskAssumeBasePosition               TaskType = 15
	TaskPrepareForHoming                 TaskType = 16
	TaskTurnXMotorOff                    TaskType = 17 // deprecated by firmware
	TaskTakeCupsForTesting               TaskType = 18
	TaskReleaseGrippersForTesting        TaskType = 19
	TaskMoveArmToCameraSprayPosition     TaskType = 20
	TaskMoveArmToBrusherSprayPosition    TaskType = 21
	TaskSetGrippersStateForTesting       TaskType = 22
	TaskMoveZUpForTesting                TaskType = 23
	TaskMoveZDownForTesting              TaskType = 24
	TaskMoveYForwardForTesting           TaskType = 25
	TaskMoveYBackwardForTesting          TaskType = 26
	TaskMoveAxisForTesting               TaskType = 27
	TaskMoveAxesRelativeForTesting       TaskType = 28
	TaskSetMotorsStateForTesting         TaskType = 29
	TaskHomeArmForTesting                TaskType = 30
	TaskFoldArmForTesting                TaskType = 31
	TaskSetRollBrushesStateForTesting    TaskType = 32
	TaskPrepareForMappingForTesting      TaskType = 33
	TaskLearnLocationForTesting          TaskType = 34
	TaskHomePerAxisForTesting            TaskType = 35
	TaskPhasingPerAxisForTesting         TaskType = 36
	TaskGoingToWashStation               TaskType = 37
	TaskAssumeWashSensorMappingPos       TaskType = 38
	TaskAssumeWashStepForTesting         TaskType = 39
	TaskWash                             TaskType = 40
	TaskMoveInStallForTesting            TaskType = 41
	TaskTakeLeftCupsPairForTesting       TaskType = 42
	TaskTakeRightCupsPairForTesting      TaskType = 43
	TaskMovePtpForTesting                TaskType = 44
	TaskSetTrackModeEnableForTesting     TaskType = 45
	TaskPhaseAxesForTesting              TaskType = 46
	TaskResetMotionControllerForTesting  TaskType = 47
	TaskPrepareForRobotTestsForTesting   TaskType = 48
	TaskLearnToolInHandForTesting        TaskType = 49
	TaskRepeatMotionForTesting           TaskType = 50
	TaskMoveOnPathForTesting             TaskType = 51
	TaskRepeatSetGrippersStateForTesting TaskType = 52
	TaskSetRobotLedIndicationForTesting  TaskType = 53
	TaskSetTrolleyParametersForTesting   TaskType = 54
	TaskSetGrippersCalibrationForTesting TaskType = 55
	TaskSetRubOutputForTesting           TaskType = 56
	TaskReleaseTool                      TaskType = 57
	TaskSetProductionInfoForTesting      TaskType = 58
	TaskMilkerWarmupForTesting           TaskType = 59
)

var taskNames = map[TaskType]string{
	TaskUnknown:                          "Unknown",
	TaskGoingToStall:                     "GoingToStall",
	TaskGoingToParking:                   "GoingToParking",
	TaskAttaching:                        "Attaching",
	TaskStoppingMotion:                   "StoppingMotion",
	TaskGoingToBrushStation:              "GoingToBrushStation",
	TaskTakeBrusher:                      "TakeBrusher",
	TaskReturnBrusher:                    "ReturnBrusher",
	TaskBrush:                            "Brush",
	TaskGoingToDipperStation:             "GoingToDipperStation",
	TaskTakeDipper:                       "TakeDipper",
	TaskReturnDipper:                     "ReturnDipper",
	TaskDip:                              "Dip",
	TaskDoHoming:                         "DoHoming",
	TaskAssumeBasePosition:               "AssumeBasePosition",
	TaskPrepareForHoming:                 "PrepareForHoming",
	TaskTurnXMotorOff:                    "TurnXMotorOff",
	TaskTakeCupsForTesting:               "TakeCupsForTesting",
	TaskReleaseGrippersForTesting:        "ReleaseGrippersForTesting",
	TaskMoveArmToCameraSprayPosition:     "MoveArmToCameraSprayPositionForTesting",
	TaskMoveArmToBrusherSprayPosition:    "MoveArmToBrusherSprayPositionForTesting",
	TaskSetGrippersStateForTesting:       "SetGrippersStateForTesting",
	TaskMoveZUpForTesting:                "MoveZUpForTesting",
	TaskMoveZDownForTesting:              "MoveZDownForTesting",
	TaskMoveYForwardForTesting:           "MoveYForwardForTesting",
	TaskMoveYBackwardForTesting:          "MoveYBackwardForTesting",
	TaskMoveAxisForTesting:               "MoveAxisForTesting",
	TaskMoveAxesRelativeForTesting:       "MoveAxesRelativeForTesting",
	TaskSetMotorsStateForTesting:         "SetMotorsStateForTesting",
	TaskHomeArmForTesting:                "HomeArmForTesting",
	TaskFoldArmForTesting:                "FoldArmForTesting",
	TaskSetRollBrushesStateForTesting:    "SetRollBrushesStateForTesting",
	TaskPrepareForMappingForTesting:      "PrepareForMappingForTesting",
	TaskLearnLocationForTesting:          "LearnLocationForTesting",
	TaskHomePerAxisForTesting:            "HomePerAxisForTesting",
	TaskPhasingPerAxisForTesting:         "PhasingPerAxisForTesting",
	TaskGoingToWashStation:               "GoingToWashStation",
	TaskAssumeWashSensorMappingPos:       "AssumeWashSensorMappingPosForTesting",
	TaskAssumeWashStepForTesting:         "AssumeWashStepForTesting",
	TaskWash:                             "Wash",
	TaskMoveInStallForTesting:            "MoveInStallForTesting",
	TaskTakeLeftCupsPairForTesting:       "TakeLeftCupsPairForTesting",
	TaskTakeRightCupsPairForTesting:      "TakeRightCupsPairForTesting",
	TaskMovePtpForTesting:                "RobotTaskMovePtpForTesting",
	TaskSetTrackModeEnableForTesting:     "SetTrackModeEnableForTesting",
	TaskPhaseAxesForTesting:              "RobotTaskPhaseAxesForTesting",
	TaskResetMotionControllerForTesting:  "RobotTaskResetMotionControllerForTesting",
	TaskPrepareForRobotTestsForTesting:   "PrepareForRobotTestsForTesting",
	TaskLearnToolInHandForTesting:        "LearnToolInHandForTesting",
	TaskRepeatMotionForTesting:           "RepeatMotionForTesting",
	TaskMoveOnPathForTesting:             "MoveOnPathForTesting",
	TaskRepeatSetGrippersStateForTesting: "RepeatSetGrippersStateForTesting",
	TaskSetRobotLedIndicationForTesting:  "SetRobotLedIndicationForTesting",
	TaskSetTrolleyParametersForTesting:   "SetTrolleyParametersForTesting",
	TaskSetGrippersCalibrationForTesting: "SetGrippersCalibrationForTesting",
	TaskSetRubOutputForTesting:           "SetRubOutputForTesting",
	TaskReleaseTool:                      "ReleaseTool",
	TaskSetProductionInfoForTesting:      "SetProductionInfoForTesting",
	TaskMilkerWarmupForTesting:           "MilkerWarmupForTesting",
}

func (t TaskType) String() string {
	if s, ok := taskNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TaskType(%d)", int(t))
}

// Valid reports whether the firmware defines t.
func (t TaskType) Valid() bool {
	_, ok := taskNames[t]
	return ok
}

// ParseTaskType accepts a task name as printed by String.
func ParseTaskType(name string) (TaskType, bool) {
	for t, s := range taskNames {
		if s == name {
			return t, true
		}
	}
	return TaskUnknown, false
}

// MotorType selects the axis a StopMove applies to.
type MotorType int

const (
	MotorA MotorType = iota
	MotorB
	MotorC
	MotorAll
	MotorArmOnly
)

func (m MotorType) String() string {
	switch m {
	case MotorA:
		return "A"
	case MotorB:
		return "B"
	case MotorC:
		return "C"
	case MotorAll:
		return "All"
	case MotorArmOnly:
		return "ArmOnly"
	}
	return fmt.Sprintf("MotorType(%d)", int(m))
}

// Valid reports whether m names a motor group.
func (m MotorType) Valid() bool {
	return m >= MotorA && m <= MotorArmOnly
}
