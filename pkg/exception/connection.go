package exception

import "github.com/yanun0323/errors"

var (
	ErrNotConnected    = errors.New("not connected")
	ErrConnectTimeout  = errors.New("connection timeout")
	ErrConnectRejected = errors.New("server rejected connection")
	ErrConnectionClose = errors.New("connection closed")
	ErrReconnectFailed = errors.New("reconnect failed")
	ErrLoginFailed     = errors.New("login failed")
	ErrSessionClosed   = errors.New("session closed")
)
