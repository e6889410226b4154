package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Error codes for the broker contracts. Keep stable; used across adapters, transports and the broker.
const (
	ErrCodeServiceNotFound     = "servicebroker.service_not_found"
	ErrCodeOperationNotFound   = "servicebroker.operation_not_found"
	ErrCodeUnsupportedContext  = "servicebroker.unsupported_context"
	ErrCodeInvalidService      = "servicebroker.invalid_service"
	ErrCodeSkippable           = "servicebroker.skippable"
	ErrCodeConfiguration       = "servicebroker.configuration"
	ErrCodeInvalidMetadata     = "servicebroker.invalid_metadata"
	ErrCodeEnqueueFailed       = "servicebroker.enqueue_failed"
	ErrCodeSerializationFailed = "servicebroker.serialization_failed"
	ErrCodeQueueEmpty          = "servicebroker.queue_empty"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrServiceNotFound     = Code(ErrCodeServiceNotFound)
	ErrOperationNotFound   = Code(ErrCodeOperationNotFound)
	ErrUnsupportedContext  = Code(ErrCodeUnsupportedContext)
	ErrInvalidService      = Code(ErrCodeInvalidService)
	ErrSkippable           = Code(ErrCodeSkippable)
	ErrConfiguration       = Code(ErrCodeConfiguration)
	ErrInvalidMetadata     = Code(ErrCodeInvalidMetadata)
	ErrEnqueueFailed       = Code(ErrCodeEnqueueFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrQueueEmpty          = Code(ErrCodeQueueEmpty)
)

// Error is a structured error that keeps the message template, the machine code
// and the named substitution variables apart, so a transport can render either
// a terse (code only) or a verbose (rendered template plus vars) view.
//
// Placeholders in Template use the %name% form.
type Error struct {
	Code     string
	Template string
	Vars     map[string]any
	Err      error
}

// New constructs a structured error.
func New(code, template string, vars map[string]any) *Error {
	return &Error{Code: code, Template: template, Vars: vars}
}

// Wrap constructs a structured error that wraps cause.
func Wrap(cause error, code, template string, vars map[string]any) *Error {
	return &Error{Code: code, Template: template, Vars: vars, Err: cause}
}

// Error renders the template with its variables.
func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

// Message renders only the template, without the wrapped cause.
func (e *Error) Message() string {
	if e.Template == "" {
		return e.Code
	}

	if len(e.Vars) == 0 {
		return e.Template
	}

	keys := make([]string, 0, len(e.Vars))
	for k := range e.Vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "%"+k+"%", fmt.Sprint(e.Vars[k]))
	}

	return strings.NewReplacer(pairs...).Replace(e.Template)
}

// Terse returns the code-only view.
func (e *Error) Terse() string { return e.Code }

// Is matches coded sentinels by their code.
func (e *Error) Is(target error) bool {
	c, ok := target.(codedError)
	return ok && string(c) == e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// GetCode extracts the machine code from err. Plain coded sentinels report
// their own code; anything else reports "".
func GetCode(err error) string {
	for err != nil {
		switch v := err.(type) {
		case *Error:
			return v.Code
		case codedError:
			return string(v)
		case interface{ Unwrap() error }:
			err = v.Unwrap()
		default:
			return ""
		}
	}

	return ""
}

// Skip marks err as skippable: a dispatcher may continue with the next listener.
func Skip(err error) error {
	if err == nil {
		err = ErrSkippable
	}

	return skipError{err: err}
}

type skipError struct{ err error }

func (s skipError) Error() string { return s.err.Error() }

func (s skipError) Is(target error) bool { return target == ErrSkippable }

func (s skipError) Unwrap() error { return s.err }

// ServiceNotFound reports that no listener is registered for service.
func ServiceNotFound(service string) *Error {
	return New(ErrCodeServiceNotFound, "Service %service% not found",
		map[string]any{"service": service})
}

// OperationNotFound reports that service does not expose operation.
func OperationNotFound(service, operation string) *Error {
	return New(ErrCodeOperationNotFound, "Service %service% doesn't implement operation %operation%",
		map[string]any{"service": service, "operation": operation})
}

// UnsupportedContext reports that operation may not be invoked in context.
func UnsupportedContext(service, operation, context string) *Error {
	return New(ErrCodeUnsupportedContext,
		"Operation %operation% of service %service% is not supported in context %context%",
		map[string]any{"service": service, "operation": operation, "context": context})
}

// InvalidService reports a malformed service id or name.
func InvalidService(template string, vars map[string]any) *Error {
	return New(ErrCodeInvalidService, template, vars)
}

// Configuration reports a missing or invalid broker collaborator.
func Configuration(template string, vars map[string]any) *Error {
	return New(ErrCodeConfiguration, template, vars)
}
