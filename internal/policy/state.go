// Package policy counts consecutive offline checks and decides when the
// streaming device must be rebooted.
package policy

// State is the failure counter carried between ticks.
type State struct {
	Count int
}

// Action is what a transition asks the caller to do.
type Action int

const (
	ActionNone Action = iota
	ActionReboot
)

func (a Action) String() string {
	if a == ActionReboot {
		return "reboot"
	}
	return "none"
}

// Next applies one verdict to s. A live verdict clears the counter; an
// offline verdict increments it, and reaching max trips: the caller reboots
// and the returned state is already cleared, whatever the reboot outcome.
func Next(s State, live bool, max int) (State, Action) {
	if live {
		return State{}, ActionNone
	}
	n := s.Count + 1
	if n >= max {
		return State{}, ActionReboot
	}
	return State{Count: n}, ActionNone
}
