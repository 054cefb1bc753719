// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an error with the category callers branch on.
type Kind string

const (
	KindInternal        Kind = "internal"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindAuthorization   Kind = "authorization"
	KindUnauthenticated Kind = "unauthenticated"
	KindConflict        Kind = "conflict"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindExternalService Kind = "external_service"
	KindIntegrity       Kind = "integrity"
)

// HTTPStatus maps a kind to the status code the API answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindConflict, KindIntegrity:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether an error of this kind may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindExternalService || k == KindQuotaExceeded
}

// Error is the error value every layer returns.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithDetails returns e with the given key set in its details.
func (e *Error) WithDetails(kv map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(kv))
	}
	for k, v := range kv {
		e.Details[k] = v
	}
	return e
}

// KindOf walks the wrap chain and returns the first Kind found.
// Errors without one are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the details of the outermost *Error in the chain.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func Conflict(msg string) *Error { return New(KindConflict, msg) }

func Authorization(msg string) *Error { return New(KindAuthorization, msg) }

func ExternalService(err error, msg string) *Error { return Wrap(KindExternalService, err, msg) }

// ErrCampaignNotFound is returned when a campaign lookup misses.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// NewCampaignNotFound wraps ErrCampaignNotFound in a not_found *Error.
func NewCampaignNotFound(id string) error {
	return Wrap(KindNotFound, &ErrCampaignNotFound{CampaignID: id}, "campaign lookup").
		WithDetails(map[string]any{"campaign_id": id})
}

// ErrProspectNotFound is returned when a prospect does not exist under a campaign.
type ErrProspectNotFound struct {
	ProspectID string
	CampaignID string
}

func (e *ErrProspectNotFound) Error() string {
	return fmt.Sprintf("prospect %s not found in campaign %s", e.ProspectID, e.CampaignID)
}

func NewProspectNotFound(prospectID, campaignID string) error {
	return Wrap(KindNotFound, &ErrProspectNotFound{ProspectID: prospectID, CampaignID: campaignID}, "prospect lookup").
		WithDetails(map[string]any{"prospect_id": prospectID, "campaign_id": campaignID})
}

// NewNotFound is the generic not_found constructor for other records.
func NewNotFound(resource, id string) error {
	return New(KindNotFound, fmt.Sprintf("%s %s not found", resource, id)).
		WithDetails(map[string]any{resource + "_id": id})
}
