package domain

import "time"

// DeadLetterRecord is the write-once trace of a job that hit a hard failure.
type DeadLetterRecord struct {
	ID        string    `json:"id,omitempty"`
	Tenant    string    `json:"tenant"`
	Error     string    `json:"error"`
	Job       Job       `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is the outbound notification sent when a job is dead-lettered.
type Alert struct {
	Tenant string    `json:"tenant"`
	Reason string    `json:"reason"`
	TS     time.Time `json:"ts"`
}
