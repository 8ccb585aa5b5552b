// Package quota implements the installation quota ledger. One unit of quota
// buys one install job; reserve and refund must be atomic per owner.
package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/errors"
)

// Ledger defines the interface for quota ledger backends.
// Implementations: memory, PostgreSQL.
type Ledger interface {
	// Reserve decrements the owner's balance by one. Returns
	// errors.ErrQuotaExhausted when the balance is zero; the balance never
	// goes negative, even under concurrent callers.
	Reserve(ctx context.Context, owner string) error

	// Refund credits one unit back to the owner. The ledger holds no per-job
	// dedup state; the lifecycle tracker calls this at most once per job.
	Refund(ctx context.Context, owner string) error

	// Balance returns the owner's current balance
	Balance(ctx context.Context, owner string) (int, error)

	// Close releases backend resources
	Close() error
}

// NewLedger creates a ledger backend based on configuration
func NewLedger(ctx context.Context, cfg *config.QuotaConfig) (Ledger, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryLedger(), nil
	case "postgres":
		return NewPostgresLedger(ctx, &cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown quota backend: %s", cfg.Backend)
	}
}

// memoryLedger is an in-memory implementation of Ledger.
// All balances are lost on restart - suitable for development/testing only.
type memoryLedger struct {
	mu       sync.Mutex
	balances map[string]int
}

// NewMemoryLedger creates a new in-memory quota ledger
func NewMemoryLedger() *memoryLedger {
	return &memoryLedger{
		balances: make(map[string]int),
	}
}

// SetBalance seeds an owner's balance (development/testing)
func (m *memoryLedger) SetBalance(owner string, balance int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] = balance
}

func (m *memoryLedger) Reserve(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, exists := m.balances[owner]
	if !exists {
		return errors.NewAccountNotFoundError(owner)
	}
	if balance <= 0 {
		return errors.WrapLedgerError(owner, "reserve", errors.ErrQuotaExhausted)
	}

	m.balances[owner] = balance - 1
	return nil
}

func (m *memoryLedger) Refund(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.balances[owner]; !exists {
		return errors.NewAccountNotFoundError(owner)
	}

	m.balances[owner]++
	return nil
}

func (m *memoryLedger) Balance(ctx context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, exists := m.balances[owner]
	if !exists {
		return 0, errors.NewAccountNotFoundError(owner)
	}
	return balance, nil
}

func (m *memoryLedger) Close() error {
	return nil
}
