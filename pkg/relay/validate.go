package relay

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/harun/chatrelay/pkg/channels"
	"github.com/harun/chatrelay/pkg/logstore"
)

// Join rejection reasons sent to clients.
const (
	ReasonInvalidChannel = "No valid channel provided"
	ReasonInvalidHandle  = "No valid handle provided"
	ReasonDuplicate      = "User already registered"
	ReasonStorage        = "Channel storage unavailable"
	ReasonShutdown       = "Server shutting down"
	ReasonTooSlow        = "Connection too slow"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return ValidHandle(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidHandle reports whether handle is 3-16 letters, digits or underscores
// and is not the reserved system actor.
func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle) && !strings.EqualFold(handle, logstore.SystemActor)
}

// ValidationError rejects a connection before a session exists.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed: " + e.Reason
	}
	return "validation failed: " + e.Reason + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// JoinParams are the handshake parameters of a connection.
type JoinParams struct {
	Channel string `validate:"required"`
	Handle  string `validate:"required,handle"`
}

// ParseJoinParams reads channel and handle from the handshake query and
// validates them against set.
func ParseJoinParams(query url.Values, set *channels.Set) (JoinParams, error) {
	params := JoinParams{
		Channel: query.Get("channel"),
		Handle:  query.Get("handle"),
	}

	err := validate.Struct(params)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Channel" {
				return params, &ValidationError{Reason: ReasonInvalidChannel, Err: err}
			}
		}
	}
	if !set.Contains(params.Channel) {
		return params, &ValidationError{Reason: ReasonInvalidChannel}
	}
	if err != nil {
		return params, &ValidationError{Reason: ReasonInvalidHandle, Err: err}
	}

	return params, nil
}
