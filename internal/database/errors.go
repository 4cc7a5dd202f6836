package database

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("database connection is not established")
	ErrConnectionNotFound = errors.New("not found")
	ErrConnectionBusy     = errors.New("connection is busy")
)

// ConnectionError reports an unreachable host or rejected credentials.
type ConnectionError struct {
	Engine string
	Host   string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("connect %s: %v", e.Engine, e.Err)
	}
	return fmt.Sprintf("connect %s at %s: %v", e.Engine, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
