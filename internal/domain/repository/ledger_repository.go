package repository

import (
	"context"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// LedgerRepository define el puerto del historial de transmisión (append-only).
type LedgerRepository interface {
	Append(ctx context.Context, entry *entity.LedgerEntry) error
	ListByDocument(ctx context.Context, documentID string) ([]entity.LedgerEntry, error)
}
