package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a rejected registry operation.
type ErrorKind string

const (
	SchemaError            ErrorKind = "SchemaError"
	GeometryError          ErrorKind = "GeometryError"
	MethodologyError       ErrorKind = "MethodologyError"
	OverlapError           ErrorKind = "OverlapError"
	ConflictError          ErrorKind = "ConflictError"
	InvalidTransitionError ErrorKind = "InvalidTransitionError"
	ParentStateError       ErrorKind = "ParentStateError"
	OwnershipError         ErrorKind = "OwnershipError"
	RetiredTokenError      ErrorKind = "RetiredTokenError"
	AnchoringTimeoutError  ErrorKind = "AnchoringTimeoutError"
	SerializationError     ErrorKind = "SerializationError"
	IdempotencyError       ErrorKind = "IdempotencyError"
	NotFoundError          ErrorKind = "NotFoundError"
	ForbiddenError         ErrorKind = "ForbiddenError"
)

// Error is returned by every registry operation that is rejected.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError builds an Error with optional key/value details.
func NewError(kind ErrorKind, message string, details map[string]interface{}) *Error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &Error{Kind: kind, Message: message, Details: details}
}

// Wrap attaches a cause to a new Error.
func Wrap(kind ErrorKind, message string, err error) *Error {
	e := NewError(kind, message, nil)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or "" when err is not a registry error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a registry error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewSchemaError(fields []FieldError) *Error {
	msg := "document failed schema validation"
	if len(fields) > 0 {
		msg = fields[0].Field + ": " + fields[0].Message
	}
	return NewError(SchemaError, msg, map[string]interface{}{"fields": fields})
}

func NewGeometryError(message string) *Error {
	return NewError(GeometryError, message, nil)
}

func NewMethodologyError(id, version, message string) *Error {
	return NewError(MethodologyError, message, map[string]interface{}{
		"methodology_id": id,
		"version":        version,
	})
}

func NewInvalidTransition(kind DocumentKind, from, action string) *Error {
	return NewError(InvalidTransitionError,
		fmt.Sprintf("action %q is not allowed for %s in status %q", action, kind, from),
		map[string]interface{}{"document_kind": string(kind), "from": from, "action": action})
}

func NewNotFound(kind DocumentKind, id string) *Error {
	return NewError(NotFoundError, fmt.Sprintf("%s %s not found", kind, id), map[string]interface{}{"id": id})
}

func NewForbidden(actorID, permission string) *Error {
	return NewError(ForbiddenError, "actor is not allowed to perform this action", map[string]interface{}{
		"actor_id":   actorID,
		"permission": permission,
	})
}

func NewParentState(projectID string, status PDDStatus) *Error {
	return NewError(ParentStateError,
		fmt.Sprintf("project %s is %q, expected %q", projectID, status, PDDApproved),
		map[string]interface{}{"project_id": projectID, "status": string(status)})
}

// NewSpatialConflict reports the PDDs whose geometry overlaps the candidate.
func NewSpatialConflict(conflicting []string, region interface{}) *Error {
	details := map[string]interface{}{"conflicting_ids": conflicting}
	if region != nil {
		details["region"] = region
	}
	return NewError(ConflictError, "geometry overlaps an active project", details)
}

// NewTemporalOverlap reports the MRVs whose reporting period overlaps [start, end).
func NewTemporalOverlap(conflicting []string, start, end string) *Error {
	return NewError(OverlapError, "reporting period overlaps an active monitoring report", map[string]interface{}{
		"conflicting_ids": conflicting,
		"interval":        map[string]string{"start_date": start, "end_date": end},
	})
}

// NewTemporalConflict is the same finding raised by a transition of a report that is
// already on file.
func NewTemporalConflict(conflicting []string, start, end string) *Error {
	e := NewTemporalOverlap(conflicting, start, end)
	e.Kind = ConflictError
	return e
}

func NewOwnership(tokenID, owner, actorID string) *Error {
	return NewError(OwnershipError, "actor does not own the credit", map[string]interface{}{
		"token_id": tokenID,
		"owner":    owner,
		"actor_id": actorID,
	})
}

// NewRetiredToken reports a credit that was already retired; retirement is terminal.
func NewRetiredToken(tokenID string) *Error {
	return NewError(RetiredTokenError, "credit is retired", map[string]interface{}{"token_id": tokenID})
}
