package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"syscall"
)

type errType string

const (
	configErrType       = "ConfigError"
	ioErrType           = "IoError"
	mountErrType        = "MountError"
	busyErrType         = "BusyError"
	invalidStateErrType = "InvalidStateError"
	notFoundErrType     = "InstanceNotFoundError"
)

// Error wraps any error for transport over the API. The concrete kind and
// its fields survive a marshal/unmarshal round trip.
type Error struct {
	Err error
}

func NewError(err string) *Error {
	return &Error{Err: errors.New(err)}
}

type marshalledError struct {
	Type    errType
	Message string

	Reason   string `json:",omitempty"`
	Op       string `json:",omitempty"`
	Path     string `json:",omitempty"`
	Cause    string `json:",omitempty"`
	Detail   string `json:",omitempty"`
	Errno    int    `json:",omitempty"`
	Active   int    `json:",omitempty"`
	Updating bool   `json:",omitempty"`
	State    string `json:",omitempty"`
	Name     string `json:",omitempty"`
}

func (m Error) Error() string {
	return m.Err.Error()
}

func (m Error) Unwrap() error {
	return m.Err
}

func (m Error) StatusCode() int {
	var (
		configErr   ConfigError
		busyErr     BusyError
		stateErr    InvalidStateError
		notFoundErr InstanceNotFoundError
	)

	switch {
	case errors.As(m.Err, &configErr):
		return http.StatusBadRequest
	case errors.As(m.Err, &busyErr), errors.As(m.Err, &stateErr):
		return http.StatusConflict
	case errors.As(m.Err, &notFoundErr):
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

func (m Error) MarshalJSON() ([]byte, error) {
	result := marshalledError{Message: m.Err.Error()}

	var (
		configErr   ConfigError
		ioErr       IoError
		mountErr    MountError
		busyErr     BusyError
		stateErr    InvalidStateError
		notFoundErr InstanceNotFoundError
	)

	switch {
	case errors.As(m.Err, &configErr):
		result.Type = configErrType
		result.Reason = configErr.Reason
	case errors.As(m.Err, &ioErr):
		result.Type = ioErrType
		result.Op = ioErr.Op
		result.Path = ioErr.Path
		if ioErr.Err != nil {
			result.Cause = ioErr.Err.Error()
		}
	case errors.As(m.Err, &mountErr):
		result.Type = mountErrType
		result.Op = mountErr.Op
		result.Path = mountErr.Target
		result.Errno = int(mountErr.Errno)
		result.Detail = mountErr.Message
	case errors.As(m.Err, &busyErr):
		result.Type = busyErrType
		result.Active = busyErr.Active
		result.Updating = busyErr.Updating
	case errors.As(m.Err, &stateErr):
		result.Type = invalidStateErrType
		result.Op = stateErr.Op
		result.State = stateErr.State.String()
	case errors.As(m.Err, &notFoundErr):
		result.Type = notFoundErrType
		result.Name = notFoundErr.Name
	}

	return json.Marshal(result)
}

func (m *Error) UnmarshalJSON(data []byte) error {
	var result marshalledError

	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	switch result.Type {
	case configErrType:
		m.Err = ConfigError{Reason: result.Reason}
	case ioErrType:
		m.Err = IoError{Op: result.Op, Path: result.Path, Err: errors.New(result.Cause)}
	case mountErrType:
		m.Err = MountError{Op: result.Op, Target: result.Path, Errno: syscall.Errno(result.Errno), Message: result.Detail}
	case busyErrType:
		m.Err = BusyError{Active: result.Active, Updating: result.Updating}
	case invalidStateErrType:
		m.Err = InvalidStateError{Op: result.Op, State: parseState(result.State)}
	case notFoundErrType:
		m.Err = InstanceNotFoundError{Name: result.Name}
	default:
		m.Err = errors.New(result.Message)
	}

	return nil
}

// ConfigError means the system was used before it was configured, or was
// configured with something unusable.
type ConfigError struct {
	Reason string
}

func (err ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", err.Reason)
}

// IoError is a failed directory create or delete.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (err IoError) Error() string {
	return fmt.Sprintf("%s %s: %s", err.Op, err.Path, err.Err)
}

func (err IoError) Unwrap() error {
	return err.Err
}

// MountError is a non-zero result from the kernel mount facility.
type MountError struct {
	Op      string
	Target  string
	Errno   syscall.Errno
	Message string
}

func (err MountError) Error() string {
	msg := err.Message
	if msg == "" {
		msg = err.Errno.Error()
	}

	return fmt.Sprintf("%s overlay %s: %s", err.Op, err.Target, msg)
}

func (err MountError) Unwrap() error {
	if err.Errno == 0 {
		return nil
	}

	return err.Errno
}

// BusyError refuses base image maintenance while containers are layered on
// it, and refuses new containers while maintenance is running.
type BusyError struct {
	Active   int
	Updating bool
}

func (err BusyError) Error() string {
	if err.Updating {
		return "base image is being updated"
	}

	return fmt.Sprintf("cannot update base image: %d container(s) still up", err.Active)
}

// InvalidStateError is an operation attempted in the wrong lifecycle state.
type InvalidStateError struct {
	Op    string
	State State
}

func (err InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: container is %s", err.Op, err.State)
}

type InstanceNotFoundError struct {
	Name string
}

func (err InstanceNotFoundError) Error() string {
	return fmt.Sprintf("unknown instance: %s", err.Name)
}

// ExitCode maps an error to a process exit status, one per error kind.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		configErr ConfigError
		ioErr     IoError
		mountErr  MountError
		busyErr   BusyError
		stateErr  InvalidStateError
	)

	switch {
	case errors.As(err, &configErr):
		return 2
	case errors.As(err, &ioErr):
		return 3
	case errors.As(err, &mountErr):
		return 4
	case errors.As(err, &busyErr):
		return 5
	case errors.As(err, &stateErr):
		return 6
	}

	return 1
}
