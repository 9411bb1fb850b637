// Package apierrors defines the error taxonomy shared by every pipeline step and HTTP handler.
package apierrors

import "fmt"

// Kind identifies one of the fixed error categories the API surface can return. Kinds are stable strings, not Go
// types, so that a wrapped unexpected error still serializes to a recognizable id.
type Kind string

// Error kinds, matching the taxonomy in the API error handling design.
const (
	InvalidCredentials       Kind = "invalid-credentials"
	InvalidOperation         Kind = "invalid-operation"
	InvalidParametersFormat  Kind = "invalid-parameters-format"
	InvalidRequestStructure  Kind = "invalid-request-structure"
	Forbidden                Kind = "forbidden"
	UnknownResource          Kind = "unknown-resource"
	UnknownReferencedResource Kind = "unknown-referenced-resource"
	ItemAlreadyExists        Kind = "item-already-exists"
	Gone                     Kind = "gone"
	UnexpectedError          Kind = "unexpected-error"
)

// httpStatus maps each kind to its default HTTP status code. Individual call sites may override the status (e.g.
// unknown-referenced-resource is 404 in most contexts but 400 when it names a malformed stream-query reference).
var httpStatus = map[Kind]int{
	InvalidCredentials:        401,
	InvalidOperation:          400,
	InvalidParametersFormat:   400,
	InvalidRequestStructure:   400,
	Forbidden:                 403,
	UnknownResource:           404,
	UnknownReferencedResource: 404,
	ItemAlreadyExists:         409,
	Gone:                      410,
	UnexpectedError:           500,
}

// APIError is the typed error surfaced by pipeline steps and serialized as the API's error envelope.
type APIError struct {
	ID         Kind
	HTTPStatus int
	Message    string
	Data       any
	InnerError error
}

func (e *APIError) Error() string {
	if e.InnerError != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID, e.Message, e.InnerError)
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Message)
}

func (e *APIError) Unwrap() error { return e.InnerError }

// New constructs an APIError with the default HTTP status for kind.
func New(kind Kind, message string) *APIError {
	return &APIError{ID: kind, HTTPStatus: httpStatus[kind], Message: message}
}

// NewWithData constructs an APIError carrying additional structured data (e.g. the unknown resource's type and id).
func NewWithData(kind Kind, message string, data any) *APIError {
	return &APIError{ID: kind, HTTPStatus: httpStatus[kind], Message: message, Data: data}
}

// NewWithStatus constructs an APIError that overrides the kind's default HTTP status.
func NewWithStatus(kind Kind, status int, message string) *APIError {
	return &APIError{ID: kind, HTTPStatus: status, Message: message}
}

// Wrap converts an arbitrary error into an unexpected-error APIError, preserving it as InnerError. If err is already
// an *APIError it is returned unchanged, matching the "errors surface unchanged" contract of the method pipeline.
func Wrap(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if ae, ok := err.(*APIError); ok {
		apiErr = ae
		return apiErr
	}
	return &APIError{ID: UnexpectedError, HTTPStatus: httpStatus[UnexpectedError], Message: "unexpected error", InnerError: err}
}

// UnknownResource builds the standard "unknown-resource" error naming the resource type and id, matching the
// attachment gate's §4.8 contract (`unknown-resource(event, id)`).
func UnknownResource(resourceType, id string) *APIError {
	return NewWithData(UnknownResource, fmt.Sprintf("Unknown %s: %s", resourceType, id), map[string]string{
		"resourceType": resourceType,
		"id":           id,
	})
}
