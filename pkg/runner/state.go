package runner

import (
	"fmt"

	"github.com/orsinium-labs/enum"
)

// State of a stage run
type State enum.Member[string]

// stage states, pending moves to done or failed, both terminal
var (
	StatePending = State{"pending"}
	StateDone    = State{"done"}
	StateFailed  = State{"failed"}

	States = enum.New(StatePending, StateDone, StateFailed)
)

func (s State) String() string { return s.Value }

// next returns the target state if the transition from s is allowed
func (s State) next(to State) (State, error) {
	if s != StatePending || to == StatePending {
		return s, fmt.Errorf("invalid stage transition %s -> %s", s, to)
	}
	return to, nil
}
