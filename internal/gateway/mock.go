package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockConfig controls the simulated provider's behavior.
type MockConfig struct {
	// Name is the gateway name in the registry.
	Name string

	// SuccessRate is the fraction of authorizations that are approved,
	// in [0, 1].
	SuccessRate float64

	// MinLatency and MaxLatency bound the simulated provider round-trip.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// DefaultMockConfig simulates a well-behaved provider.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Name:        "mock",
		SuccessRate: 0.95,
		MinLatency:  20 * time.Millisecond,
		MaxLatency:  120 * time.Millisecond,
	}
}

// Mock is an in-process payment gateway used in development and load tests.
// It approves a configurable fraction of authorizations after a randomized
// delay and remembers transactions so Status and Refund behave like a real
// provider.
type Mock struct {
	cfg    MockConfig
	logger *slog.Logger

	mu           sync.Mutex
	transactions map[string]*Result
}

// NewMock creates a mock gateway.
func NewMock(cfg MockConfig, logger *slog.Logger) *Mock {
	return &Mock{
		cfg:          cfg,
		logger:       logger,
		transactions: make(map[string]*Result),
	}
}

func (m *Mock) Name() string { return m.cfg.Name }

// Authorize approves or declines the request according to the configured
// success rate.
func (m *Mock) Authorize(ctx context.Context, req Request) (*Result, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	result := &Result{
		TransactionID: req.TransactionID,
		ProviderRef:   fmt.Sprintf("%s-%s", m.cfg.Name, uuid.NewString()),
		Status:        StatusAuthorized,
	}
	if rand.Float64() >= m.cfg.SuccessRate {
		result.Status = StatusDeclined
		result.Reason = "insufficient funds"
	}

	m.mu.Lock()
	m.transactions[req.TransactionID] = result
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "mock gateway authorization",
		slog.String("gateway", m.cfg.Name),
		slog.String("transaction_id", req.TransactionID),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// Refund marks a known authorized transaction as refunded.
func (m *Mock) Refund(ctx context.Context, transactionID string) (*Result, error) {
	if err := m.simulateLatency(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if result.Status != StatusAuthorized {
		return nil, fmt.Errorf("gateway: cannot refund transaction in status %s", result.Status)
	}
	result.Status = StatusRefunded
	return result, nil
}

// Status returns the remembered state of a transaction.
func (m *Mock) Status(ctx context.Context, transactionID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cpy := *result
	return &cpy, nil
}

func (m *Mock) Healthy(context.Context) bool { return true }

func (m *Mock) simulateLatency(ctx context.Context) error {
	delay := m.cfg.MinLatency
	if spread := m.cfg.MaxLatency - m.cfg.MinLatency; spread > 0 {
		delay += rand.N(spread)
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
