package chat

import (
	"errors"

	"pingchat/internal/api"
)

var (
	ErrNoSession      = errors.New("not logged in")
	ErrNoSelection    = errors.New("select a contact first")
	ErrUnknownContact = errors.New("unknown contact")
)

// ValidationError is input rejected before anything reaches the backend.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Describe turns err into the text shown to the user. Transport failures all
// collapse into one connectivity message.
func Describe(err error) string {
	var ve *ValidationError
	var be *api.BackendError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &be):
		return be.Message
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrNoSelection), errors.Is(err, ErrUnknownContact):
		return err.Error()
	}
	return "could not reach the server"
}
