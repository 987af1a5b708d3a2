package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que LedgerRepo implementa repository.LedgerRepository.
var _ repository.LedgerRepository = (*LedgerRepo)(nil)

// LedgerRepo implementación del historial de transmisión sobre PostgreSQL.
// La tabla es append-only: no hay UPDATE ni DELETE.
type LedgerRepo struct {
	q Querier
}

// NewLedgerRepository construye el adaptador del ledger. Pasar pool o tx (Querier).
func NewLedgerRepository(q Querier) *LedgerRepo {
	return &LedgerRepo{q: q}
}

// Append agrega una entrada al historial. seq lo asigna la secuencia de la tabla.
func (r *LedgerRepo) Append(ctx context.Context, entry *entity.LedgerEntry) error {
	query := `
		INSERT INTO transmission_ledger (
			document_id, company_id, codigo_generacion, numero_control,
			from_status, to_status, detail, actor, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`
	err := r.q.QueryRow(ctx, query,
		entry.DocumentID, entry.CompanyID, entry.CodigoGeneracion, entry.NumeroControl,
		entry.FromStatus, entry.ToStatus, entry.Detail, entry.Actor, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// ListByDocument devuelve el historial completo de un documento, en orden.
func (r *LedgerRepo) ListByDocument(ctx context.Context, documentID string) ([]entity.LedgerEntry, error) {
	query := `
		SELECT seq, document_id, company_id, codigo_generacion, numero_control,
		       from_status, to_status, detail, actor, created_at
		FROM transmission_ledger
		WHERE document_id = $1
		ORDER BY seq`
	rows, err := r.q.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var list []entity.LedgerEntry
	for rows.Next() {
		var e entity.LedgerEntry
		if err := rows.Scan(
			&e.Seq, &e.DocumentID, &e.CompanyID, &e.CodigoGeneracion, &e.NumeroControl,
			&e.FromStatus, &e.ToStatus, &e.Detail, &e.Actor, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
