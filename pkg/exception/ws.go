package exception

import "errors"

// WS errors
var (
	ErrMalformedFrame = errors.New("websocket: malformed frame")
)
