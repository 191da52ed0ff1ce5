package models

import "time"

// Webhook is a registered ingress endpoint: a source path that accepts
// inbound events, a destination URL events get forwarded to after
// transformation, and the SQL that does the transforming and (optionally)
// filtering.
type Webhook struct {
	Base
	SourcePath     string `json:"source_path"`
	DestinationURL string `json:"destination_url"`
	TransformQuery string `json:"transform_query"`
	FilterQuery    string `json:"filter_query,omitempty"`
	Owner          string `json:"owner,omitempty"`
	Active         bool   `json:"active"`
}

// PhysicalPrefix returns the webhook id with every dash replaced by an
// underscore, the fragment used to namespace this webhook's reference
// tables and UDFs so that identical logical names under different webhooks
// never collide physically.
func (w Webhook) PhysicalPrefix() string {
	return DashesToUnderscores(w.ID)
}

// DashesToUnderscores implements the physical naming rule shared by
// reference tables and UDFs.
func DashesToUnderscores(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}

// ReferenceTable is operator-uploaded CSV data exposed as a physical table
// that a webhook's transform/filter SQL can join against.
type ReferenceTable struct {
	Base
	WebhookID         string `json:"webhook_id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	PhysicalTableName string `json:"physical_table_name"`
}

// UDF is an operator-registered scalar function, implemented in JavaScript
// and exposed to a webhook's transform/filter SQL as a named engine
// function.
type UDF struct {
	Base
	WebhookID        string `json:"webhook_id"`
	Name             string `json:"name"`
	Source           string `json:"source"`
	PhysicalFuncName string `json:"physical_func_name"`
	Arity            int    `json:"arity"`
}

// RawEvent is the immutable record of an inbound ingress POST, written
// before any evaluation happens.
type RawEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	SourcePath string    `json:"source_path"`
	Payload    string    `json:"payload"`
	Headers    string    `json:"headers"`
}

// TransformedEvent is the immutable record of one dispatch attempt's
// outcome, written after the dispatcher returns (or after evaluation fails
// before a dispatch was ever attempted).
type TransformedEvent struct {
	ID                 string    `json:"id"`
	RawEventID         string    `json:"raw_event_id"`
	WebhookID          string    `json:"webhook_id"`
	DestinationURL     string    `json:"destination_url"`
	Success            bool      `json:"success"`
	StatusCode         int       `json:"status_code"`
	ResponseBody       string    `json:"response_body"`
	Timestamp          time.Time `json:"timestamp"`
	TransformedPayload string    `json:"transformed_payload"`
}
