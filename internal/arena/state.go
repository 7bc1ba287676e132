package arena

import (
	"fmt"
	"strings"
)

// State is the lifecycle phase of the arena.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateWaiting
	StateCountdown
	StatePregame
	StateInProgress
	StatePostGame
	StateResetting
	StateError
)

var stateNames = map[State]string{
	StateIdle:       "IDLE",
	StatePreparing:  "PREPARING",
	StateWaiting:    "WAITING",
	StateCountdown:  "COUNTDOWN",
	StatePregame:    "PREGAME",
	StateInProgress: "IN_PROGRESS",
	StatePostGame:   "POST_GAME",
	StateResetting:  "RESETTING",
	StateError:      "ERROR",
}

// transitions lists the expected successors of each state. Only the
// PREPARING edges are driven by this package; the rest come from gameplay.
var transitions = map[State][]State{
	StateIdle:       {StatePreparing},
	StatePreparing:  {StateWaiting, StateError},
	StateWaiting:    {StateCountdown},
	StateCountdown:  {StatePregame},
	StatePregame:    {StateInProgress},
	StateInProgress: {StatePostGame},
	StatePostGame:   {StateResetting},
	StateResetting:  {StateIdle},
	StateError:      {StatePreparing},
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState accepts state names in any case.
func ParseState(name string) (State, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range stateNames {
		if n == upper {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown arena state %q", name)
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanTransition reports whether to is an expected successor of from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Spectating reports whether clients joining in this state only watch.
func (s State) Spectating() bool {
	return s == StateInProgress || s == StatePostGame || s == StateResetting
}

// Joinable reports whether this state accepts new players into the match.
func (s State) Joinable() bool {
	return s == StateWaiting || s == StateCountdown
}
