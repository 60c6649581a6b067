package auth

import "errors"

var (
	ErrMissingKey       = errors.New("API key is required")
	ErrMalformedKey     = errors.New("API key must be <actor_id>.<secret>")
	ErrUnknownActor     = errors.New("Unknown actor")
	ErrIncorrectSecret  = errors.New("Incorrect API key")
	ErrDisabled         = errors.New("Actor credential is disabled")
	ErrInvalidRole      = errors.New("Invalid role")
	ErrActorIDRequired  = errors.New("Actor id is required")
	ErrCredentialExists = errors.New("Actor credential already exists")
)
