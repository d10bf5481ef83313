package domain

import (
	"encoding/json"
	"time"
)

// CommandType identifies what a buffered write command does when processed.
type CommandType string

const (
	CommandCreateOrder     CommandType = "CREATE_ORDER"
	CommandCreatePayment   CommandType = "CREATE_PAYMENT"
	CommandSaveReservation CommandType = "SAVE_RESERVATION"
)

// MaxCommandRetries is the number of processing attempts before a command is
// routed to the dead-letter handler.
const MaxCommandRetries = 3

// WriteCommand is a deferred database write queued in the write buffer.
type WriteCommand struct {
	CommandID  string          `json:"command_id"`
	Type       CommandType     `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CanRetry reports whether the command has attempts left.
func (c *WriteCommand) CanRetry() bool {
	return c.RetryCount < MaxCommandRetries
}

// Age returns how long the command has been waiting.
func (c *WriteCommand) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
