package shortener

import (
	"errors"
	"net/http"

	"github.com/sundayezeilo/shortspace/internal/errx"
	"github.com/sundayezeilo/shortspace/internal/httpx"
)

// OutcomeKind classifies how a request ended.
type OutcomeKind uint8

const (
	OutcomeRedirect OutcomeKind = iota
	OutcomeNotFound
	OutcomeInvalidInput
	OutcomeConflict
	OutcomeForbidden
	OutcomeServerError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalidInput:
		return "invalid_input"
	case OutcomeConflict:
		return "conflict"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "server_error"
	}
}

// Outcome is the transport-neutral result of a gateway request. URL is set
// only for OutcomeRedirect; Code and Message only for failures.
type Outcome struct {
	Kind    OutcomeKind
	Status  int
	URL     string
	Code    string
	Message string
}

// OutcomeOf folds a service result into an Outcome. Server errors carry a
// generic message so store details never reach clients.
func OutcomeOf(target string, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeRedirect, Status: http.StatusFound, URL: target}
	}

	kind := errx.KindOf(err)
	status := httpx.ErrorKindToStatus(kind)
	code := ErrorCode(err)
	if code == "" {
		code = httpx.ErrorKindToCode(kind)
	}

	switch kind {
	case errx.NotFound:
		return Outcome{Kind: OutcomeNotFound, Status: status,
			Code: CodeNotFound, Message: "short link doesn't exist"}
	case errx.Invalid:
		return Outcome{Kind: OutcomeInvalidInput, Status: status,
			Code: code, Message: causeOf(err).Error()}
	case errx.Conflict:
		return Outcome{Kind: OutcomeConflict, Status: status,
			Code: code, Message: "This slug is already taken"}
	case errx.Forbidden:
		return Outcome{Kind: OutcomeForbidden, Status: status,
			Code: code, Message: "this host does not serve short links"}
	case errx.Exhausted:
		return Outcome{Kind: OutcomeServerError, Status: status,
			Code: CodeAllocationExhausted, Message: "Unable to allocate a short link right now. Please try again."}
	case errx.Unavailable:
		return Outcome{Kind: OutcomeServerError, Status: status,
			Code: httpx.ErrorKindToCode(kind), Message: "Service temporarily unavailable. Please try again."}
	default:
		return Outcome{Kind: OutcomeServerError, Status: http.StatusInternalServerError,
			Code: httpx.ErrorKindToCode(errx.Internal), Message: "An unexpected error occurred."}
	}
}

// causeOf strips errx wrappers, leaving the message meant for clients.
func causeOf(err error) error {
	var e *errx.Error
	for errors.As(err, &e) && e.Err != nil {
		err = e.Err
	}
	return err
}
