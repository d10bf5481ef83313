// Package gateway defines the payment gateway contract and the selection
// machinery around it: a name-keyed registry with payment-method routing and
// a circuit-breaker wrapper for calls to external providers.
package gateway

import (
	"context"
	"errors"
)

// ErrTransactionNotFound is returned by Status and Refund when the gateway
// has no record of the transaction.
var ErrTransactionNotFound = errors.New("gateway: transaction not found")

// ResultStatus is the provider-side outcome of an authorization.
type ResultStatus string

const (
	StatusAuthorized ResultStatus = "AUTHORIZED"
	StatusDeclined   ResultStatus = "DECLINED"
	StatusRefunded   ResultStatus = "REFUNDED"
)

// Request describes a single authorization attempt. Amount is in minor
// currency units.
type Request struct {
	TransactionID string
	OrderID       string
	UserID        string
	Amount        int64
	Currency      string
	Method        string
}

// Result is the gateway's answer to an authorization or status lookup.
// A decline is a Result, not an error: errors mean the provider could not be
// reached or gave an unusable answer.
type Result struct {
	TransactionID string
	ProviderRef   string
	Status        ResultStatus
	Reason        string
}

// Authorized reports whether the provider approved the transaction.
func (r *Result) Authorized() bool {
	return r != nil && r.Status == StatusAuthorized
}

// PaymentGateway is the contract every payment provider adapter implements.
type PaymentGateway interface {
	// Name identifies the gateway in the registry, logs, and metrics.
	Name() string

	// Authorize attempts to capture the payment described by req.
	Authorize(ctx context.Context, req Request) (*Result, error)

	// Refund reverses a previously authorized transaction.
	Refund(ctx context.Context, transactionID string) (*Result, error)

	// Status looks up the current provider-side state of a transaction.
	Status(ctx context.Context, transactionID string) (*Result, error)

	// Healthy reports whether the provider is reachable and accepting traffic.
	Healthy(ctx context.Context) bool
}
