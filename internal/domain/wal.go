package domain

import "time"

// WALStatus is the lifecycle status of a write-ahead log entry.
type WALStatus string

const (
	WALPending    WALStatus = "PENDING"
	WALInProgress WALStatus = "IN_PROGRESS"
	WALCommitted  WALStatus = "COMMITTED"
	WALFailed     WALStatus = "FAILED"
	WALRecovered  WALStatus = "RECOVERED"
)

// IsTerminal reports whether the status is a final state.
func (s WALStatus) IsTerminal() bool {
	return s == WALCommitted || s == WALFailed || s == WALRecovered
}

// WALOperation describes the kind of mutation an entry records.
type WALOperation string

const (
	WALInsert WALOperation = "INSERT"
	WALUpdate WALOperation = "UPDATE"
	WALDelete WALOperation = "DELETE"
)

// WALEntry is a durable intent record written before a business mutation.
// LSN orders entries; it comes from a database sequence with a wall-clock
// fallback, so ordering is only guaranteed per process when the fallback is
// active.
type WALEntry struct {
	LogID         string       `json:"log_id"`
	LSN           int64        `json:"lsn"`
	TransactionID string       `json:"transaction_id"`
	Operation     WALOperation `json:"operation"`
	TableName     string       `json:"table_name"`
	BeforeData    []byte       `json:"before_data,omitempty"`
	AfterData     []byte       `json:"after_data,omitempty"`
	Status        WALStatus    `json:"status"`
	Message       string       `json:"message,omitempty"`
	RelatedLogID  string       `json:"related_log_id,omitempty"`
	Compressed    bool         `json:"compressed"`
	CreatedAt     time.Time    `json:"created_at"`
	WrittenAt     time.Time    `json:"written_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}
