package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Inference or store call exceeded its deadline",
		SuggestedAction: "Retried automatically; check provider latency if it persists",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by shutdown or caller",
		SuggestedAction: "None; the job is redelivered after its visibility timeout",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "Inference provider rate limit exceeded",
		SuggestedAction: "Retried with backoff; lower worker concurrency or raise the provider quota",
	},
	ErrProviderUnavailable: {
		Code:            ErrProviderUnavailable,
		Retryable:       true,
		Description:     "Inference provider unreachable",
		SuggestedAction: "Check provider health and network egress",
	},
	ErrStoreUnavailable: {
		Code:            ErrStoreUnavailable,
		Retryable:       true,
		Description:     "Database connection failure",
		SuggestedAction: "Check database health: intake migrate status",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Provider output could not be parsed",
		SuggestedAction: "Inspect the item in the review queue",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       true,
		Description:     "Unclassified processing failure",
		SuggestedAction: "Inspect worker logs; the recovery sweep closes items that keep failing",
	},
}

// GetErrorCodeInfo returns metadata for code, if registered.
func GetErrorCodeInfo(code ErrorCode) (ErrorCodeInfo, bool) {
	info, ok := ErrorCodeRegistry[code]
	return info, ok
}
