package line

// State is the call state of one analog line.
type State int

const (
	StateOnHook State = iota
	StateOffHook
	StateDialing
	StateInCall
	StateCallEnded
	StateRinging
	StateUnknown
)

var stateNames = [...]string{
	StateOnHook:    "OnHook",
	StateOffHook:   "OffHook",
	StateDialing:   "Dialing",
	StateInCall:    "InCall",
	StateCallEnded: "CallEnded",
	StateRinging:   "Ringing",
	StateUnknown:   "Unknown",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Invalid"
	}
	return stateNames[s]
}

// Condition is an in-call indication requested by the sink, mapped onto
// local call-progress tones.
type Condition int

const (
	ConditionStop Condition = iota
	ConditionRinging
	ConditionBusy
	ConditionCongestion
	ConditionProgress
)

var conditionNames = [...]string{
	ConditionStop:       "Stop",
	ConditionRinging:    "Ringing",
	ConditionBusy:       "Busy",
	ConditionCongestion: "Congestion",
	ConditionProgress:   "Progress",
}

func (c Condition) String() string {
	if c < 0 || int(c) >= len(conditionNames) {
		return "Invalid"
	}
	return conditionNames[c]
}

// DeviceState is the coarse availability summary of a line.
type DeviceState int

const (
	DeviceInvalid DeviceState = iota
	DeviceNotInUse
	DeviceInUse
	DeviceRinging
	DeviceUnknown
)

var deviceStateNames = [...]string{
	DeviceInvalid:  "Invalid",
	DeviceNotInUse: "NotInUse",
	DeviceInUse:    "InUse",
	DeviceRinging:  "Ringing",
	DeviceUnknown:  "Unknown",
}

func (d DeviceState) String() string {
	if d < 0 || int(d) >= len(deviceStateNames) {
		return "Invalid"
	}
	return deviceStateNames[d]
}

// deviceStateOf summarizes a call state for availability queries.
func deviceStateOf(s State) DeviceState {
	switch s {
	case StateOnHook:
		return DeviceNotInUse
	case StateOffHook, StateDialing, StateInCall, StateCallEnded:
		return DeviceInUse
	case StateRinging:
		return DeviceRinging
	default:
		return DeviceUnknown
	}
}
