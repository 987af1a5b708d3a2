package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que TxRunner implementa transmission.TxRunner.
var _ transmission.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL. Cada
// transición de documento y su entrada de ledger se confirman juntas.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Run inicia una transacción, ejecuta fn con repos atados a la tx y hace
// Commit o Rollback.
func (r *TxRunner) Run(ctx context.Context, fn func(
	docRepo repository.DocumentRepository,
	ledgerRepo repository.LedgerRepository,
	contRepo repository.ContingencyRepository,
	loteRepo repository.LoteRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	docRepo := NewDocumentRepository(tx)
	ledgerRepo := NewLedgerRepository(tx)
	contRepo := NewContingencyRepository(tx)
	loteRepo := NewLoteRepository(tx)

	if err := fn(docRepo, ledgerRepo, contRepo, loteRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
