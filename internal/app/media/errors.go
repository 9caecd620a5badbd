package media

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrNoDevice is returned when a stream has no track of the requested kind.
var ErrNoDevice = errors.New("no device")

type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonUnsupported      Reason = "unsupported"
	ReasonNoSource         Reason = "no-source"
	ReasonCancelled        Reason = "cancelled"
)

// Source names what was being captured.
type Source string

const (
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// UnavailableError is returned when local media cannot be acquired.
type UnavailableError struct {
	Source Source
	Reason Reason
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable: %s", e.Source, e.Reason)
	}
	return fmt.Sprintf("%s unavailable: %s: %v", e.Source, e.Reason, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable builds an UnavailableError.
func Unavailable(src Source, reason Reason, err error) *UnavailableError {
	return &UnavailableError{Source: src, Reason: reason, Err: err}
}

// ReasonOf extracts the reason of an UnavailableError, or "" when err is not one.
func ReasonOf(err error) Reason {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Reason
	}
	return ""
}

func kindName(kind webrtc.RTPCodecType) string {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return "audio"
	case webrtc.RTPCodecTypeVideo:
		return "video"
	}
	return "unknown"
}
