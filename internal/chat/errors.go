package chat

import "errors"

// Validation errors. Handlers answer these with a 4xx status.
var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message is too long")
	ErrPromptTooShort = errors.New("prompt is too short")
	ErrPromptTooLong  = errors.New("prompt is too long")
	ErrBannedContent  = errors.New("prompt contains content that is not allowed")
	// ErrImageRejected is returned when every phrasing of an image prompt was
	// refused on content-policy grounds.
	ErrImageRejected = errors.New("image prompt was rejected by the content policy")
)

// ErrImageFailed wraps upstream image failures that are not policy rejections.
var ErrImageFailed = errors.New("image generation failed")

// IsValidation reports whether err is caused by the request itself.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyMessage,
		ErrMessageTooLong,
		ErrPromptTooShort,
		ErrPromptTooLong,
		ErrBannedContent,
		ErrImageRejected,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
