package protocol

import "errors"

var (
	ErrConnectionClosed  = errors.New("protocol: connection closed by peer")
	ErrTimeout           = errors.New("protocol: receive timed out")
	ErrMalformed         = errors.New("protocol: malformed message")
	ErrUnknownCommand    = errors.New("protocol: unknown command")
	ErrUnexpectedCommand = errors.New("protocol: unexpected command")
	ErrUnknownOption     = errors.New("protocol: unknown option")
)
