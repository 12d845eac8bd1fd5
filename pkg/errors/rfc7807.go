// Package errors renders control-surface failures as RFC 7807 Problem Details
package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeValidationError   = "https://dropcopy.finalex.io/problems/validation-error"
	TypeSessionNotFound   = "https://dropcopy.finalex.io/problems/session-not-found"
	TypeMessageNotFound   = "https://dropcopy.finalex.io/problems/message-not-found"
	TypeSessionNotRunning = "https://dropcopy.finalex.io/problems/session-not-running"
	TypeInternalError     = "https://dropcopy.finalex.io/problems/internal-error"
)

// Problem titles
const (
	TitleValidationError   = "Validation Error"
	TitleSessionNotFound   = "Session Not Found"
	TitleMessageNotFound   = "Message Not Found"
	TitleSessionNotRunning = "Session Not Running"
	TitleInternalError     = "Internal Server Error"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Extra    map[string]interface{} `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value interface{}) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]interface{})
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]interface{})
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}

	for k, v := range p.Extra {
		result[k] = v
	}

	return json.Marshal(result)
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, TitleValidationError, http.StatusBadRequest, detail, instance)
}

// NewSessionNotFoundError reports an unknown session name
func NewSessionNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeSessionNotFound, TitleSessionNotFound, http.StatusNotFound, detail, instance)
}

// NewMessageNotFoundError reports a sequence number absent from a session's store
func NewMessageNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeMessageNotFound, TitleMessageNotFound, http.StatusNotFound, detail, instance)
}

// NewSessionNotRunningError reports a request that needs a live session store
func NewSessionNotRunningError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeSessionNotRunning, TitleSessionNotRunning, http.StatusConflict, detail, instance)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, TitleInternalError, http.StatusInternalServerError, detail, instance)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}
