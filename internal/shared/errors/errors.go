package errors

import "errors"

// Per-item errors. These are contained at the pipeline boundary: a message is
// never dropped because one of its attachments failed.
var (
	ErrUnclassifiableMedia = errors.New("media has no recognizable photo or document shape")
	ErrDownloadFailed      = errors.New("media download failed")
	ErrTranscodeFailed     = errors.New("media transcode failed")
)

// Transport-level errors. These invalidate the whole remaining fetch for an
// entity and propagate to the caller.
var (
	ErrSourceRateLimited  = errors.New("source rate limited")
	ErrSourceAccessDenied = errors.New("source access denied")
)

var (
	ErrMissingCredentials = errors.New("api_id and api_hash are required")
	ErrNoExportTargets    = errors.New("no export targets configured")
	ErrUnknownEntity      = errors.New("entity could not be resolved")
)
