package relay

import (
	"fmt"
	"time"
)

// Phase is a step in a connection's lifecycle.
type Phase uint8

const (
	PhaseInitialized Phase = iota
	PhaseTCPConnecting
	PhaseTCPConnected
	PhaseHandshakeInitiated
	PhaseHandshakeCompleted
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseReady
	PhaseProcessing
	PhaseSending
	PhaseReceiving
	PhasePingSent
	PhasePongReceived
	PhaseIdle
	PhaseClosing
	PhaseClosed
	PhaseError
	PhaseTerminated
)

var phaseNames = [...]string{
	PhaseInitialized:        "Initialized",
	PhaseTCPConnecting:      "TcpConnecting",
	PhaseTCPConnected:       "TcpConnected",
	PhaseHandshakeInitiated: "HandshakeInitiated",
	PhaseHandshakeCompleted: "HandshakeCompleted",
	PhaseAuthenticating:     "Authenticating",
	PhaseAuthenticated:      "Authenticated",
	PhaseReady:              "Ready",
	PhaseProcessing:         "Processing",
	PhaseSending:            "Sending",
	PhaseReceiving:          "Receiving",
	PhasePingSent:           "PingSent",
	PhasePongReceived:       "PongReceived",
	PhaseIdle:               "Idle",
	PhaseClosing:            "Closing",
	PhaseClosed:             "Closed",
	PhaseError:              "Error",
	PhaseTerminated:         "Terminated",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// State is a connection's current lifecycle position. Fault is meaningful
// only when Phase is PhaseError.
type State struct {
	Phase Phase
	Fault ErrorKind
}

func stateOf(p Phase) State { return State{Phase: p} }

func errorState(k ErrorKind) State { return State{Phase: PhaseError, Fault: k} }

func (s State) String() string {
	if s.Phase == PhaseError {
		return "Error(" + s.Fault.String() + ")"
	}
	return s.Phase.String()
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Final reports whether no further transitions can follow.
func (s State) Final() bool {
	return s.Phase == PhaseClosed || s.Phase == PhaseTerminated
}

// Transition is one entry in a connection's append-only state log.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}
