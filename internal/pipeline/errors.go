package pipeline

import "errors"

// ErrMissingAttribute is returned when an upload event lacks a bucket
// or object attribute. Upstream event shape is not guaranteed, so this
// is checked explicitly rather than assumed.
var ErrMissingAttribute = errors.New("missing event attribute")

// Failure reasons reported in webhook payloads. Classification is
// priority ordered and reports a single reason even when several
// conditions hold: a run with no downloaded file gets the download
// reason regardless of what else went wrong.
const (
	reasonDownload    = "Failed to download or process the uploaded file"
	reasonExtraction  = "Failed to extract a project directory from the archive"
	reasonCompilation = "Android build compilation failed"
	reasonUnknown     = "Build outcome was never recorded"
)
