package drone

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-alzar/pkg/state"
)

// ErrInvalidTransition is returned when a command is illegal in the current drone state.
var ErrInvalidTransition = errors.New("drone: invalid transition")

// ErrClosed is returned for commands issued after Close.
var ErrClosed = errors.New("drone: controller closed")

// Command is a drone lifecycle command.
type Command string

const (
	CommandLaunch Command = "launch"
	CommandReturn Command = "return"
)

// TransitionError reports a rejected command and the state it was rejected in.
type TransitionError struct {
	From    state.DroneStatus
	Command Command
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("drone: cannot %s while %s", e.Command, e.From)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
