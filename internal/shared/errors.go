package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication and token lifecycle errors
	ErrNotLinked            = fmt.Errorf("account not linked")
	ErrAuthExpiredOrRevoked = fmt.Errorf("authorization expired or revoked")
	ErrRefreshFailed        = fmt.Errorf("token refresh failed")
	ErrInvalidCiphertext    = fmt.Errorf("invalid ciphertext")

	// Outcome taxonomy for adapter failures
	ErrTransientNetwork = fmt.Errorf("transient network failure")
	ErrPolicyViolation  = fmt.Errorf("policy violation")
	ErrNotFound         = fmt.Errorf("not found")
	ErrUnavailable      = fmt.Errorf("unavailable")
	ErrUnclassified     = fmt.Errorf("unclassified failure")

	// Media extraction errors (closed set reported by the sidecar)
	ErrUnsupportedURL     = fmt.Errorf("unsupported URL")
	ErrVideoPrivate       = fmt.Errorf("private video")
	ErrVideoPremiere      = fmt.Errorf("premiere not yet released")
	ErrRateLimited        = fmt.Errorf("rate limited by source")
	ErrArtifactTooBig     = fmt.Errorf("%w: artifact exceeds size limit", ErrPolicyViolation)
	ErrLyricsNotFound     = fmt.Errorf("lyrics not found")
	ErrDownloadInProgress = fmt.Errorf("download already in progress")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
