package fusion

import (
	"errors"

	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/protocol/payload"
)

var (
	ErrInvalidPath          = errors.New("fusion: invalid path")
	ErrServerCreationFailed = errors.New("fusion: server creation failed")
	ErrLoopRunning          = errors.New("fusion: event loop already running")

	ErrNodeNotFound     = messenger.ErrNodeNotFound
	ErrMethodNotFound   = messenger.ErrMethodNotFound
	ErrInvalidMessenger = messenger.ErrInvalidMessenger
	ErrMessengerWrite   = messenger.ErrMessengerWrite
	ErrConnectionLost   = messenger.ErrConnectionLost
	ErrMapInvalid       = payload.ErrMapInvalid
)

// RemoteError is a method call the server answered with an error.
type RemoteError = messenger.RemoteError
