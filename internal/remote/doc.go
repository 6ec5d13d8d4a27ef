// Package remote is the HTTP/JSON client for the processing pipeline.
//
// The pipeline exposes three endpoints per step: POST /run/{step},
// GET /status/{step} and POST /cancel/{step}. Any non-2xx answer becomes a
// *StatusError; failures to reach the server at all are recognised by
// IsUnavailable. The client carries no retry logic: callers own the
// decision of what a failure means for the step.
package remote
