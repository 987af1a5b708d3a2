package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que LoteRepo implementa repository.LoteRepository.
var _ repository.LoteRepository = (*LoteRepo)(nil)

const loteColumns = `
	id, contingency_period_id, contingency_event_id, codigo_lote,
	company_id, establishment_id, point_of_sale_id,
	document_count, status, attempts, processing, hacienda_response,
	next_attempt_at, submitted_at, last_polled_at, completed_at,
	created_at, updated_at`

// LoteRepo implementación de LoteRepository sobre PostgreSQL (usable con pool o tx).
type LoteRepo struct {
	q Querier
}

// NewLoteRepository construye el adaptador de lotes. Pasar pool o tx (Querier).
func NewLoteRepository(q Querier) *LoteRepo {
	return &LoteRepo{q: q}
}

func scanLote(row interface{ Scan(dest ...any) error }) (*entity.Lote, error) {
	var l entity.Lote
	err := row.Scan(
		&l.ID, &l.ContingencyPeriodID, &l.ContingencyEventID, &l.CodigoLote,
		&l.CompanyID, &l.EstablishmentID, &l.PointOfSaleID,
		&l.DocumentCount, &l.Status, &l.Attempts, &l.Processing, &l.HaciendaResponse,
		&l.NextAttemptAt, &l.SubmittedAt, &l.LastPolledAt, &l.CompletedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create persiste un lote recién armado (estado pending).
func (r *LoteRepo) Create(ctx context.Context, lote *entity.Lote) error {
	query := `
		INSERT INTO lotes (
			id, contingency_period_id, contingency_event_id,
			company_id, establishment_id, point_of_sale_id,
			document_count, status, attempts, processing,
			next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, false, $9, $10, $11)`
	_, err := r.q.Exec(ctx, query,
		lote.ID, lote.ContingencyPeriodID, lote.ContingencyEventID,
		lote.CompanyID, lote.EstablishmentID, lote.PointOfSaleID,
		lote.DocumentCount, lote.Status, lote.NextAttemptAt,
		lote.CreatedAt, lote.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lote: %w", err)
	}
	return nil
}

// GetByID obtiene un lote por ID.
func (r *LoteRepo) GetByID(ctx context.Context, id string) (*entity.Lote, error) {
	query := `SELECT ` + loteColumns + ` FROM lotes WHERE id = $1`
	l, err := scanLote(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get lote: %w", err)
	}
	return l, nil
}

// List devuelve lotes según filtro, más recientes primero.
func (r *LoteRepo) List(ctx context.Context, filter repository.LoteFilter) ([]*entity.Lote, error) {
	query := `SELECT ` + loteColumns + ` FROM lotes WHERE 1=1`
	var args []any
	if filter.CompanyID != "" {
		args = append(args, filter.CompanyID)
		query += fmt.Sprintf(" AND company_id = $%d", len(args))
	}
	if filter.PeriodID != "" {
		args = append(args, filter.PeriodID)
		query += fmt.Sprintf(" AND contingency_period_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lotes: %w", err)
	}
	defer rows.Close()

	var list []*entity.Lote
	for rows.Next() {
		l, err := scanLote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lote: %w", err)
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// CountOpenByPeriod cuenta lotes del período que aún no llegaron a accepted.
// Un lote failed cuenta como abierto: el período no puede completarse mientras
// exista, solo queda marcado needs_attention para intervención manual.
func (r *LoteRepo) CountOpenByPeriod(ctx context.Context, periodID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM lotes WHERE contingency_period_id = $1 AND status <> $2`,
		periodID, entity.LoteStatusAccepted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open lotes: %w", err)
	}
	return count, nil
}

// claimLotes toma lotes en el estado dado sin reclamar y los marca processing.
func (r *LoteRepo) claimLotes(ctx context.Context, status string, extra string, args []any, limit int) ([]*entity.Lote, error) {
	args = append([]any{status}, args...)
	args = append(args, limit)
	query := fmt.Sprintf(`
		UPDATE lotes SET processing = true, updated_at = now()
		WHERE id IN (
			SELECT id FROM lotes
			WHERE status = $1 AND processing = false%s
			ORDER BY created_at
			LIMIT $%d
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, extra, len(args), loteColumns)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim lotes: %w", err)
	}
	defer rows.Close()

	var list []*entity.Lote
	for rows.Next() {
		l, err := scanLote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lote: %w", err)
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// ClaimSubmittable toma lotes pending cuyo próximo intento ya venció.
func (r *LoteRepo) ClaimSubmittable(ctx context.Context, now time.Time, limit int) ([]*entity.Lote, error) {
	return r.claimLotes(ctx, entity.LoteStatusPending,
		" AND (next_attempt_at IS NULL OR next_attempt_at <= $2)", []any{now}, limit)
}

// ClaimPollable toma lotes submitted para sondear su veredicto.
func (r *LoteRepo) ClaimPollable(ctx context.Context, limit int) ([]*entity.Lote, error) {
	return r.claimLotes(ctx, entity.LoteStatusSubmitted, "", nil, limit)
}

// Release suelta el claim del worker.
func (r *LoteRepo) Release(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `UPDATE lotes SET processing = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release lote: %w", err)
	}
	return nil
}

// MarkSubmitted registra la recepción del lote por Hacienda (pending → submitted).
func (r *LoteRepo) MarkSubmitted(ctx context.Context, id, codigoLote string, response []byte) error {
	query := `
		UPDATE lotes
		SET status = $2, codigo_lote = $3, hacienda_response = $4,
		    submitted_at = now(), updated_at = now()
		WHERE id = $1 AND status = $5`
	cmd, err := r.q.Exec(ctx, query, id, entity.LoteStatusSubmitted, codigoLote, response, entity.LoteStatusPending)
	if err != nil {
		return fmt.Errorf("mark lote submitted: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// ScheduleRetry incrementa attempts y agenda el próximo intento del lote.
func (r *LoteRepo) ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, response []byte) error {
	query := `
		UPDATE lotes
		SET attempts = $2, next_attempt_at = $3, hacienda_response = $4, updated_at = now()
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, attempts, nextAttemptAt, response)
	if err != nil {
		return fmt.Errorf("schedule lote retry: %w", err)
	}
	return nil
}

// MarkFailed agota el lote tras exceder el presupuesto de reintentos.
func (r *LoteRepo) MarkFailed(ctx context.Context, id string, response []byte) error {
	query := `
		UPDATE lotes
		SET status = $2, hacienda_response = $3, completed_at = now(), updated_at = now()
		WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, entity.LoteStatusFailed, response)
	if err != nil {
		return fmt.Errorf("mark lote failed: %w", err)
	}
	return nil
}

// MarkAccepted cierra el lote cuando todos sus documentos tienen veredicto
// terminal. Admite el cierre desde pending para el caso de un reenvío donde
// los veredictos ya se aplicaron en una corrida anterior.
func (r *LoteRepo) MarkAccepted(ctx context.Context, id string, response []byte) error {
	query := `
		UPDATE lotes
		SET status = $2, hacienda_response = $3, completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)`
	cmd, err := r.q.Exec(ctx, query, id, entity.LoteStatusAccepted, response, entity.LoteStatusPending, entity.LoteStatusSubmitted)
	if err != nil {
		return fmt.Errorf("mark lote accepted: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// TouchPolled estampa la hora del último sondeo.
func (r *LoteRepo) TouchPolled(ctx context.Context, id string, polledAt time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE lotes SET last_polled_at = $2, updated_at = now() WHERE id = $1`, id, polledAt)
	if err != nil {
		return fmt.Errorf("touch lote polled: %w", err)
	}
	return nil
}
