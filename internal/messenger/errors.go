package messenger

import (
	"errors"
	"fmt"
)

// DeliveryError reports that an outbound message could not be sent.
type DeliveryError struct {
	Platform string
	ChatID   string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("messenger: %s: deliver to %s: %v", e.Platform, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// MediaUnavailableError reports that inbound media could not be fetched.
type MediaUnavailableError struct {
	Platform string
	Ref      MediaRef
	Err      error
}

func (e *MediaUnavailableError) Error() string {
	return fmt.Sprintf("messenger: %s: media %q unavailable: %v", e.Platform, e.Ref, e.Err)
}

func (e *MediaUnavailableError) Unwrap() error { return e.Err }

// IsDeliveryError reports whether err is or wraps a *DeliveryError.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// IsMediaUnavailable reports whether err is or wraps a *MediaUnavailableError.
func IsMediaUnavailable(err error) bool {
	var me *MediaUnavailableError
	return errors.As(err, &me)
}
