package domain

// ConsumerGroupInfo describes a consumer group on the job stream.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// ConsumerInfo describes one dispatcher instance in a group.
type ConsumerInfo struct {
	Name    string `json:"name"`
	Pending int64  `json:"pending"`
	IdleMS  int64  `json:"idle_ms"`
}

// PendingMessageSummary summarises delivered-but-unacknowledged jobs.
type PendingMessageSummary struct {
	Total          int64            `json:"total"`
	FirstMessageID string           `json:"first_message_id,omitempty"`
	LastMessageID  string           `json:"last_message_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

// PendingMessageDetail is one unacknowledged delivery. JobID and Tenant are
// empty when the entry is gone from the stream.
type PendingMessageDetail struct {
	ID         string `json:"id"`
	Consumer   string `json:"consumer"`
	IdleMS     int64  `json:"idle_ms"`
	RetryCount int64  `json:"retry_count"`
	JobID      string `json:"job_id,omitempty"`
	Tenant     string `json:"tenant,omitempty"`
}
