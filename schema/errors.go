package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicateTab indicates a tab id is already registered.
	ErrDuplicateTab = errors.New("tab already exists")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSpawn indicates a local shell could not be started.
	ErrSpawn = errors.New("failed to start shell")
	// ErrNoCredentials indicates a connect had neither key nor password.
	ErrNoCredentials = errors.New("no credentials")
	// ErrAuth indicates the remote rejected the supplied credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrTransportClosed indicates a write to a handle whose stream has ended.
	ErrTransportClosed = errors.New("transport closed")
	// ErrInvalidFavorite indicates a favorite is missing required fields.
	ErrInvalidFavorite = errors.New("invalid favorite")
	// ErrFavoriteNotFound indicates a favorite could not be found.
	ErrFavoriteNotFound = errors.New("favorite not found")
)
