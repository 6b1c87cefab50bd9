package handoff

import (
	"fmt"
	"regexp"
	"time"

	"github.com/BaSui01/advisorflow/types"
)

// emailPattern is deliberately loose: shape-check only, not RFC scrutiny.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidationResult collects the outcome of a validation pass. Validators
// never return Go errors for bad input; they report all problems at once.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AsError converts a failed result into a typed validation error, or nil.
func (r *ValidationResult) AsError() error {
	if r.Valid {
		return nil
	}
	return types.NewError(types.ErrValidationFailed, "request validation failed").
		WithHTTPStatus(400).
		WithMeta("errors", r.Errors)
}

// ValidateCreateRequest shape-checks an inbound create request.
// Pure function, no I/O.
func ValidateCreateRequest(req *types.CreateHandoffRequest) ValidationResult {
	result := ValidationResult{Valid: true}

	if req == nil {
		result.addError("request is required")
		return result
	}
	if req.ConversationID == "" {
		result.addError("conversation_id is required")
	}
	if req.UserID == "" {
		result.addError("user_id is required")
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		result.addError("priority %q is not one of low/medium/high", req.Priority)
	}
	validateMetadata(req.Metadata, &result)
	return result
}

func validateMetadata(meta *types.HandoffMetadata, result *ValidationResult) {
	if meta == nil {
		return
	}
	if meta.UserInfo != nil && meta.UserInfo.Email != "" {
		if !emailPattern.MatchString(meta.UserInfo.Email) {
			result.addError("user_info.email %q is not a valid email address", meta.UserInfo.Email)
		}
	}
	if m := meta.Metrics; m != nil {
		if m.MessageCount < 0 {
			result.addError("metrics.message_count must not be negative")
		}
		if m.BotTurns < 0 {
			result.addError("metrics.bot_turns must not be negative")
		}
		if m.SentimentScore < -1 || m.SentimentScore > 1 {
			result.addError("metrics.sentiment_score must be within [-1, 1]")
		}
	}
}

// ValidateQueueItem checks a fully-formed record before a write: status
// and priority must be known values, and the TTL must lie ahead of now
// but within maxHorizon (absurd expiries are rejected).
func ValidateQueueItem(req *types.HandoffRequest, now time.Time, maxHorizon time.Duration) ValidationResult {
	result := ValidationResult{Valid: true}

	if req == nil {
		result.addError("record is required")
		return result
	}
	if req.QueueID == "" {
		result.addError("queue_id is required")
	}
	if req.ConversationID == "" {
		result.addError("conversation_id is required")
	}
	if req.UserID == "" {
		result.addError("user_id is required")
	}
	if !req.Status.IsValid() {
		result.addError("status %q is not a known state", req.Status)
	}
	if !req.Priority.IsValid() {
		result.addError("priority %q is not one of low/medium/high", req.Priority)
	}
	if req.CreatedAt.IsZero() {
		result.addError("created_at is required")
	}
	if req.TTL.IsZero() {
		result.addError("ttl is required")
	} else {
		if !req.TTL.After(now) {
			result.addError("ttl must be in the future")
		}
		if maxHorizon > 0 && req.TTL.After(now.Add(maxHorizon)) {
			result.addError("ttl exceeds the maximum horizon of %s", maxHorizon)
		}
	}
	validateMetadata(req.Metadata, &result)
	return result
}
