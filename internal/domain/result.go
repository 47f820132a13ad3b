package domain

import "encoding/json"

// ChannelStatus is the terminal state of one channel within a job.
type ChannelStatus string

const (
	StatusPublished        ChannelStatus = "published"
	StatusDeferred         ChannelStatus = "deferred"
	StatusFallbackRequired ChannelStatus = "fallback_required"
)

// FallbackShare is the manual alternative offered for a channel that could not be published.
const FallbackShare = "share"

// ErrorCodeDLQ marks a job that ended in the dead-letter sink.
const ErrorCodeDLQ = "DLQ"

// SuggestedShareTargets are the manual share options offered with a fallback.
var SuggestedShareTargets = []string{"native_share", "copy_caption", "download_media"}

// ChannelResult is the per-channel entry of a dispatch outcome.
type ChannelResult struct {
	Status    ChannelStatus `json:"status"`
	PostID    string        `json:"post_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Fallback  string        `json:"fallback,omitempty"`
	Suggested []string      `json:"suggested,omitempty"`
}

// FallbackEntry names a channel the caller has to handle manually.
type FallbackEntry struct {
	Channel Channel `json:"channel"`
	Reason  string  `json:"reason"`
}

// DispatchData is the data section of a finalized dispatch response.
type DispatchData struct {
	Results   map[Channel]ChannelResult `json:"results"`
	Fallbacks []FallbackEntry           `json:"fallbacks,omitempty"`
}

// ErrorBody is the error section of a response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope returned to callers and stored in the idempotency slot.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// QueuedData is the data of the interim admission response.
type QueuedData struct {
	Queued bool `json:"queued"`
}

// QueuedResponse is the interim value written at admission.
func QueuedResponse() Response {
	return Response{Success: true, Data: QueuedData{Queued: true}}
}

// ErrorResponse builds a failed envelope.
func ErrorResponse(code, message string) Response {
	return Response{Success: false, Error: &ErrorBody{Code: code, Message: message}}
}

// IsInterim reports whether a stored response is the admission placeholder
// rather than a dispatch outcome.
func IsInterim(raw []byte) bool {
	var probe struct {
		Success bool `json:"success"`
		Data    struct {
			Queued bool `json:"queued"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Success && probe.Data.Queued
}
