package agent

import "fmt"

// State is the agent's lifecycle position. Transitions are one-directional
// and driven entirely by host lifecycle signals; there is no rollback.
type State int

const (
	// StateInstalling: the instance exists but has not received the
	// install signal's acknowledgment yet.
	StateInstalling State = iota

	// StateActivating: installed and superseding any previous instance;
	// bootstrap is allowed to run.
	StateActivating

	// StateReady: bootstrap succeeded; forwarding decisions are accepted.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
