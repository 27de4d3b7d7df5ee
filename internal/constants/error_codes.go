package constants

// IDRandomBytes is the number of random bytes in generated record IDs.
const IDRandomBytes = 12

const (
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeUnsupportedMedia    = "UNSUPPORTED_MEDIA"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeInvalidSignature    = "INVALID_SIGNATURE"
)
