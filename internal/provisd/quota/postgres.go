package quota

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/errors"
	"github.com/provisboard/provisd/pkg/logger"
)

// postgresLedger stores quota balances in PostgreSQL. Atomicity per owner
// comes from single-statement conditional updates; no row is ever driven
// below zero because the decrement carries its own balance guard.
//
// Expected schema (migrations are owned by the surrounding deployment):
//
//	CREATE TABLE quota_accounts (
//	    owner_id   text PRIMARY KEY,
//	    balance    integer NOT NULL CHECK (balance >= 0),
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type postgresLedger struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewPostgresLedger creates a ledger backed by PostgreSQL
func NewPostgresLedger(ctx context.Context, cfg *config.PostgresConfig) (*postgresLedger, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnLifetime != "" {
		poolCfg.MaxConnLifetime = config.MustDuration(cfg.ConnLifetime)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &postgresLedger{
		pool:   pool,
		logger: logger.WithField("component", "quota-postgres"),
	}, nil
}

func (p *postgresLedger) Reserve(ctx context.Context, owner string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE quota_accounts
		    SET balance = balance - 1, updated_at = now()
		  WHERE owner_id = $1 AND balance > 0`, owner)
	if err != nil {
		return errors.WrapLedgerError(owner, "reserve", err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish an empty balance from a missing account
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM quota_accounts WHERE owner_id = $1)`, owner).Scan(&exists); err != nil {
			return errors.WrapLedgerError(owner, "reserve", err)
		}
		if !exists {
			return errors.NewAccountNotFoundError(owner)
		}
		return errors.WrapLedgerError(owner, "reserve", errors.ErrQuotaExhausted)
	}

	return nil
}

func (p *postgresLedger) Refund(ctx context.Context, owner string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE quota_accounts
		    SET balance = balance + 1, updated_at = now()
		  WHERE owner_id = $1`, owner)
	if err != nil {
		return errors.WrapLedgerError(owner, "refund", err)
	}

	if tag.RowsAffected() == 0 {
		return errors.NewAccountNotFoundError(owner)
	}

	return nil
}

func (p *postgresLedger) Balance(ctx context.Context, owner string) (int, error) {
	var balance int
	err := p.pool.QueryRow(ctx,
		`SELECT balance FROM quota_accounts WHERE owner_id = $1`, owner).Scan(&balance)
	if err != nil {
		return 0, errors.NewAccountNotFoundError(owner)
	}
	return balance, nil
}

func (p *postgresLedger) Close() error {
	p.pool.Close()
	return nil
}
