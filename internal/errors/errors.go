// Package errors defines the failure taxonomy of a chat submission and the
// text shown to the user for each kind.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrAttachment = errors.New("attachment error")
	ErrRemote     = errors.New("remote error")
	ErrNetwork    = errors.New("network error")
	ErrUnknown    = errors.New("unknown error")
)

// Fallback texts used when the underlying failure carries no message.
const (
	UnknownRemoteMessage = "Unknown error occurred"
	NetworkMessage       = "Error: No response received from the server. Please check your network."
	GenericMessage       = "An error occurred while fetching the response. Please try again."
)

// AttachmentKind tells which extraction step failed.
type AttachmentKind int

const (
	ReadFailure AttachmentKind = iota
	OcrFailure
)

func (k AttachmentKind) String() string {
	if k == OcrFailure {
		return "ocr"
	}
	return "read"
}

// AttachmentError is returned when an uploaded file cannot be turned into text.
type AttachmentError struct {
	Kind AttachmentKind
	Name string
	Err  error
}

func (e *AttachmentError) Error() string {
	var what string
	switch e.Kind {
	case OcrFailure:
		what = "failed to extract text from image"
	default:
		what = "failed to read file"
	}
	if e.Name != "" {
		what = fmt.Sprintf("%s %q", what, e.Name)
	}
	if e.Err == nil {
		return what
	}
	return fmt.Sprintf("%s: %v", what, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// Is allows comparison with ErrAttachment.
func (e *AttachmentError) Is(target error) bool {
	if target == ErrAttachment {
		return true
	}
	_, ok := target.(*AttachmentError)
	return ok
}

// NewReadError creates an AttachmentError for a text read/decode failure.
func NewReadError(name string, err error) *AttachmentError {
	return &AttachmentError{Kind: ReadFailure, Name: name, Err: err}
}

// NewOCRError creates an AttachmentError for an OCR failure.
func NewOCRError(name string, err error) *AttachmentError {
	return &AttachmentError{Kind: OcrFailure, Name: name, Err: err}
}

// RemoteError means the inference endpoint answered with an error payload.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = UnknownRemoteMessage
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote error [%d]: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("remote error: %s", msg)
}

// Is allows comparison with ErrRemote.
func (e *RemoteError) Is(target error) bool {
	if target == ErrRemote {
		return true
	}
	_, ok := target.(*RemoteError)
	return ok
}

// NewRemoteError creates a RemoteError.
func NewRemoteError(status int, message string) *RemoteError {
	return &RemoteError{StatusCode: status, Message: message}
}

// NetworkError means the request was sent but no response came back.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "no response received"
	}
	return fmt.Sprintf("no response received: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is allows comparison with ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	if target == ErrNetwork {
		return true
	}
	_, ok := target.(*NetworkError)
	return ok
}

// NewNetworkError creates a NetworkError.
func NewNetworkError(err error) *NetworkError {
	return &NetworkError{Err: err}
}

// UnknownError covers every failure that is neither remote nor network.
type UnknownError struct {
	Message string
	Err     error
}

func (e *UnknownError) Error() string { return e.Message }

func (e *UnknownError) Unwrap() error { return e.Err }

// Is allows comparison with ErrUnknown.
func (e *UnknownError) Is(target error) bool {
	if target == ErrUnknown {
		return true
	}
	_, ok := target.(*UnknownError)
	return ok
}

// NewUnknownError wraps err, keeping its description as the message.
func NewUnknownError(err error) *UnknownError {
	if err == nil {
		return &UnknownError{}
	}
	return &UnknownError{Message: err.Error(), Err: err}
}

// UserMessage converts a submission failure into the transcript text.
func UserMessage(err error) string {
	var (
		attErr     *AttachmentError
		remoteErr  *RemoteError
		networkErr *NetworkError
		unknownErr *UnknownError
	)
	switch {
	case err == nil:
		return GenericMessage
	case errors.As(err, &remoteErr):
		msg := remoteErr.Message
		if msg == "" {
			msg = UnknownRemoteMessage
		}
		return "Error: " + msg
	case errors.As(err, &networkErr):
		return NetworkMessage
	case errors.As(err, &attErr):
		return "Error: " + attErr.Error()
	case errors.As(err, &unknownErr):
		if unknownErr.Message == "" {
			return GenericMessage
		}
		return "Error: " + unknownErr.Message
	default:
		return "Error: " + err.Error()
	}
}
