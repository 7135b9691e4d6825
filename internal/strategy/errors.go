package strategy

import (
	"errors"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

var (
	// ErrNoResult is reported by a branch that finished without a response.
	ErrNoResult = platformerrors.New(platformerrors.CodeNotFound, "no result returned")

	errBadResponse = errors.New("bad response")
)

// AggregateError is returned by Fastest when both sources fail.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return `both cache and network failed: "` + strings.Join(msgs, `", "`) + `"`
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
