package conn

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/muurk/tuyalocal/internal/logging"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateReady        State = "ready"
)

const (
	eventDial      = "dial"
	eventHandshake = "handshake"
	eventReady     = "ready"
	eventDrop      = "drop"
)

// stateMachine wraps the lifecycle FSM. Every state may drop back to
// disconnected; the handshaking state is skipped for versions without a
// connect hook.
type stateMachine struct {
	fsm *fsm.FSM
}

func newStateMachine(addr string) *stateMachine {
	return &stateMachine{
		fsm: fsm.NewFSM(
			string(StateDisconnected),
			fsm.Events{
				{Name: eventDial, Src: []string{string(StateDisconnected)}, Dst: string(StateConnecting)},
				{Name: eventHandshake, Src: []string{string(StateConnecting)}, Dst: string(StateHandshaking)},
				{Name: eventReady, Src: []string{string(StateConnecting), string(StateHandshaking)}, Dst: string(StateReady)},
				{Name: eventDrop, Src: []string{string(StateConnecting), string(StateHandshaking), string(StateReady)}, Dst: string(StateDisconnected)},
			},
			fsm.Callbacks{
				"enter_state": func(_ context.Context, e *fsm.Event) {
					logging.LogStateChange(addr, e.Src, e.Dst)
				},
			},
		),
	}
}

func (m *stateMachine) current() State {
	return State(m.fsm.Current())
}

// fire runs event. Repeating a transition into the current state is not an
// error.
func (m *stateMachine) fire(ctx context.Context, event string) error {
	err := m.fsm.Event(ctx, event)
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return err
}
