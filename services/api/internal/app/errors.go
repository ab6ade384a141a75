package app

import (
	"errors"
	"fmt"
)

// Kind classifies errors for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindUpstream
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a classified error whose message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	// ErrInvalidCredentials is shared by every login failure so the response
	// does not reveal which field was wrong.
	ErrInvalidCredentials = newError(KindAuthentication, "Invalid credentials")

	ErrMissingToken          = newError(KindAuthentication, "No token provided or invalid format")
	ErrInvalidToken          = newError(KindAuthentication, "Invalid token")
	ErrExpiredToken          = newError(KindAuthentication, "Invalid or expired token")
	ErrWrongTokenType        = newError(KindAuthentication, "Invalid token type")
	ErrUnknownSubject        = newError(KindAuthentication, "Invalid token")
	ErrInsufficientPrivilege = newError(KindAuthorization, "Access denied. Super admin privileges required.")
	ErrRateLimited           = newError(KindRateLimited, "Too many requests, please try again later")

	ErrUsernamePasswordRequired = newError(KindValidation, "Username and password are required")
	ErrUsernameTaken            = newError(KindConflict, "Username already exists")
	ErrInvalidRole              = newError(KindValidation, "Role must be one of: admin, superAdmin")

	ErrCategoryNameRequired = newError(KindValidation, "Category name is required")
	ErrCategoryNotFound     = newError(KindNotFound, "Category not found")

	ErrPromptTextRequired    = newError(KindValidation, "promptText is required")
	ErrPromptIDRequired      = newError(KindValidation, "promptId is required")
	ErrPromptNotFound        = newError(KindNotFound, "Prompt not found")
	ErrInvalidImageReference = newError(KindValidation, "One or more image IDs are invalid")
	ErrInvalidStatus         = newError(KindValidation, "Status must be one of: queued, generating, done, failed")
	ErrInvalidCount          = newError(KindValidation, "count must be between 1 and 4")
	ErrInvalidSize           = newError(KindValidation, "size must look like 1024x1024")
	ErrInvalidImageURL       = newError(KindValidation, "imageUrls must be absolute http(s) URLs")
	ErrGeneratingStatus      = newError(KindValidation, "Status generating cannot be set directly")
	ErrQueuedWithImages      = newError(KindValidation, "A queued prompt cannot have images")

	ErrNoImageFile          = newError(KindValidation, "No image file provided")
	ErrNoImageFiles         = newError(KindValidation, "No image files provided")
	ErrTooManyFiles         = newError(KindValidation, "Too many files")
	ErrFileTooLarge         = newError(KindValidation, "File too large")
	ErrUnsupportedImageType = newError(KindValidation, "Only image files are allowed")
	ErrImageNotFound        = newError(KindNotFound, "Image not found")
	ErrUploadFailed         = newError(KindUpstream, "Failed to upload image")
	ErrAllUploadsFailed     = newError(KindUpstream, "Failed to upload any images")
)

// CategoryInUseError refuses a category delete while prompts reference it.
type CategoryInUseError struct {
	Count int64
}

func (e *CategoryInUseError) Error() string {
	return fmt.Sprintf("Cannot delete category. It is used by %d prompt(s)", e.Count)
}

// KindOf returns the classification of err, KindInternal when unknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var inUse *CategoryInUseError
	if errors.As(err, &inUse) {
		return KindConflict
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-facing message for err. Unclassified
// errors get a generic message so internal detail stays in the logs.
func PublicMessage(err error) string {
	var inUse *CategoryInUseError
	if errors.As(err, &inUse) {
		return inUse.Error()
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}
