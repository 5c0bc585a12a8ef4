package app

import "errors"

var (
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords so the login form cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUserDisabled       = errors.New("user disabled")

	ErrUsernameAndPasswordRequired = errors.New("username and password required")
	ErrUsernameAlreadyExists       = errors.New("username already exists")
	ErrUserNotFound                = errors.New("user not found")
	ErrProjectNotFound             = errors.New("project not found")
	ErrModelNotFound               = errors.New("model not found")

	ErrCannotDisableSelf = errors.New("cannot disable self")
	ErrCannotDeleteSelf  = errors.New("cannot delete self")
)
