package mcpjsonrpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/i2y/nlquery/internal/domain"
)

// codeErrors pairs server-defined error codes with the domain errors they
// carry. CodeFor takes the first match, so session-level errors come first.
var codeErrors = []struct {
	code int
	err  error
}{
	{CodeServerErrorProtocolMismatch, domain.ErrProtocolMismatch},
	{CodeServerErrorNotInitialized, domain.ErrNotInitialized},
	{CodeServerErrorToolNotFound, domain.ErrUnknownTool},
	{CodeServerErrorResourceNotFound, domain.ErrUnknownResource},
	{CodeServerErrorPromptNotFound, domain.ErrUnknownPrompt},
	{CodeServerErrorDuplicate, domain.ErrDuplicateCapability},
	{CodeInvalidParams, domain.ErrInvalidArguments},
}

// CodeFor returns the wire error code for err.
func CodeFor(err error) int {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternalError
}

func errorForCode(code int) (error, bool) {
	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err, true
		}
	}
	return nil, false
}

// ErrorFor converts a server-side error into a wire error object.
func ErrorFor(err error) *Error {
	return &Error{Code: CodeFor(err), Message: err.Error()}
}

// AsDomainError converts a wire error object back into an error that
// matches the corresponding domain sentinel under errors.Is.
func AsDomainError(e *Error) error {
	if e == nil {
		return nil
	}
	if target, ok := errorForCode(e.Code); ok {
		if rest, ok := strings.CutPrefix(e.Message, target.Error()); ok {
			return fmt.Errorf("%w%s", target, rest)
		}
		return fmt.Errorf("%w: %s", target, e.Message)
	}
	return e
}
