package handler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// State is a job lifecycle state.
type State string

const (
	StateReceived      State = "received"
	StateValidating    State = "validating"
	StateMaterializing State = "materializing"
	StateInferring     State = "inferring"
	StatePackaging     State = "packaging"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var transitions = map[State][]State{
	StateReceived:      {StateValidating},
	StateValidating:    {StateMaterializing},
	StateMaterializing: {StateInferring},
	StateInferring:     {StatePackaging},
	StatePackaging:     {StateCompleted},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// CanTransition reports whether from → to is a legal step. failed is
// reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks one job's state and logs every transition.
type machine struct {
	state   State
	entered time.Time
	log     zerolog.Logger
	history []State
}

func newMachine(log zerolog.Logger) *machine {
	m := &machine{state: StateReceived, entered: time.Now(), log: log}
	m.history = append(m.history, StateReceived)
	stateTransitions.WithLabelValues(string(StateReceived)).Inc()
	return m
}

func (m *machine) to(s State) error {
	if !CanTransition(m.state, s) {
		return fmt.Errorf("illegal job transition %s -> %s", m.state, s)
	}
	now := time.Now()
	m.log.Debug().Str("from", string(m.state)).Str("to", string(s)).Dur("in_state", now.Sub(m.entered)).Msg("job state")
	m.state, m.entered = s, now
	m.history = append(m.history, s)
	stateTransitions.WithLabelValues(string(s)).Inc()
	return nil
}
