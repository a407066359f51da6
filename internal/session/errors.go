package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailed matches every *ConnectError.
	ErrConnectFailed = errors.New("connect failed")

	// ErrNotConnected is returned by device commands without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect outside the Disconnected phase.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotPermitted is returned when the current slot state forbids a command.
	ErrNotPermitted = errors.New("command not permitted in current slot state")

	// ErrNoRemoteFirmware is returned by FetchFirmware without a configured URL.
	ErrNoRemoteFirmware = errors.New("no remote firmware configured")

	errConnectAborted = errors.New("connect aborted by disconnect")
)

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Prefix string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to device %q: %v", e.Prefix, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }

// CommandError indicates the device answered a command with a non-zero return code.
type CommandError struct {
	Command string
	Code    int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s rejected by device: rc=%d", e.Command, e.Code)
}
