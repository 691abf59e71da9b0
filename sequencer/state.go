package sequencer

// State is the observatory's operational state. Exactly one is active at a
// time, owned and mutated only by the Sequencer's run loop.
type State int

const (
	Sleeping State = iota
	Ready
	Scheduling
	Slewing
	Pointing
	Imaging
	Analyzing
	Parking
	Parked
	Housekeeping
)

var stateNames = map[State]string{
	Sleeping:     "Sleeping",
	Ready:        "Ready",
	Scheduling:   "Scheduling",
	Slewing:      "Slewing",
	Pointing:     "Pointing",
	Imaging:      "Imaging",
	Analyzing:    "Analyzing",
	Parking:      "Parking",
	Parked:       "Parked",
	Housekeeping: "Housekeeping",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// transitions is the static graph. Parking is reachable from every
// operating state because the unsafe guard preempts everything;
// Housekeeping runs with the mount already parked, so it only returns to
// Sleeping.
var transitions = map[State][]State{
	Sleeping:     {Ready, Parking},
	Ready:        {Scheduling, Parking},
	Scheduling:   {Slewing, Parking},
	Slewing:      {Pointing, Parking},
	Pointing:     {Imaging, Scheduling, Parking},
	Imaging:      {Analyzing, Parking},
	Analyzing:    {Scheduling, Parking},
	Parking:      {Parked},
	Parked:       {Housekeeping},
	Housekeeping: {Sleeping},
}

// ValidTransition reports whether from -> to is an edge of the graph.
func ValidTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// needsSafety reports whether the state involves operating hardware and is
// therefore subject to the unsafe-preemption guard. Parking states are
// exempt: they are already the response to unsafe.
func needsSafety(s State) bool {
	switch s {
	case Ready, Scheduling, Slewing, Pointing, Imaging, Analyzing:
		return true
	}
	return false
}
