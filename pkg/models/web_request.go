package models

import "time"

type WebRequestStatus string

const (
	WebRequestOK            WebRequestStatus = "OK"
	WebRequestNotFound      WebRequestStatus = "NOT_FOUND"
	WebRequestNotAcceptable WebRequestStatus = "NOT_ACCEPTABLE"
	WebRequestUnauthorized  WebRequestStatus = "UNAUTHORIZED"
	WebRequestUnknown       WebRequestStatus = "UNKNOWN"
)

// Payload is the normalized form of an inbound request.
type Payload struct {
	Header map[string]any `json:"header"`
	Query  map[string]any `json:"query"`
	Body   Body           `json:"body"`
}

// Body holds exactly one of the content-type specific variants.
type Body struct {
	JSON any            `json:"json,omitempty"`
	Form map[string]any `json:"form,omitempty"`
	Text string         `json:"text,omitempty"`
}

// Document returns the payload as a generic JSON document.
func (p *Payload) Document() map[string]any {
	body := map[string]any{}
	if p.Body.JSON != nil {
		body["json"] = p.Body.JSON
	}

	if p.Body.Form != nil {
		body["form"] = p.Body.Form
	}

	if p.Body.Text != "" {
		body["text"] = p.Body.Text
	}

	return map[string]any{
		"header": p.Header,
		"query":  p.Query,
		"body":   body,
	}
}

// WebRequest is the audit record of one inbound webhook call, whatever its outcome.
type WebRequest struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id,omitempty"`
	TriggerID       string           `json:"trigger_id,omitempty"`
	WorkflowRef     string           `json:"workflow_ref,omitempty"`
	WorkflowVersion string           `json:"workflow_version,omitempty"`
	UserAgent       string           `json:"user_agent,omitempty"`
	Payload         *Payload         `json:"payload,omitempty"`
	StatusCode      WebRequestStatus `json:"status_code"`
	ErrorMsg        string           `json:"error_msg,omitempty"`
	RequestTime     time.Time        `json:"request_time"`
}

// Reject marks the request with a failure status and reason.
func (r *WebRequest) Reject(status WebRequestStatus, msg string) {
	r.StatusCode = status
	r.ErrorMsg = msg
}
