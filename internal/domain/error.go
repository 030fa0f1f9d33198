package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Session / transport errors
	ErrSessionNotFound = errors.New("bot session not found or not running")
	ErrBotNotRunnable  = errors.New("bot is not active, authorized and unexpired")
	ErrAlreadyStarting = errors.New("bot session is already starting")
	ErrTransportLaunch = errors.New("transport launch failed")
	ErrDeliveryFailed  = errors.New("transport delivery failed")

	// Collaborator errors
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrChannelDisconnected = errors.New("control channel disconnected")
)
