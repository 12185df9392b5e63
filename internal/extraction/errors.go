package extraction

import "errors"

var (
	ErrNotFound          = errors.New("extraction not found")
	ErrInvalidRequest    = errors.New("invalid extraction request")
	ErrInvalidStatus     = errors.New("invalid extraction status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownView       = errors.New("unknown consolidated view")
)
