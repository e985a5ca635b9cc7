package exception

import "errors"

// General errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCallTimeout     = errors.New("method call timeout")
	ErrFailedToSend    = errors.New("failed to send")
)
