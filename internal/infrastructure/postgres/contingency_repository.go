package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que ContingencyRepo implementa repository.ContingencyRepository.
var _ repository.ContingencyRepository = (*ContingencyRepo)(nil)

const periodColumns = `
	id, company_id, establishment_id, point_of_sale_id, ambiente,
	f_inicio, h_inicio, f_fin, h_fin,
	tipo_contingencia, motivo_contingencia,
	status, needs_attention, processing,
	created_at, updated_at`

const eventColumns = `
	id, contingency_period_id, codigo_generacion,
	company_id, establishment_id, point_of_sale_id, ambiente,
	event_json, event_signed, estado, sello_recibido, hacienda_response,
	submitted_at, accepted_at, created_at`

// ContingencyRepo implementación de ContingencyRepository sobre PostgreSQL
// (usable con pool o tx).
type ContingencyRepo struct {
	q Querier
}

// NewContingencyRepository construye el adaptador de contingencia. Pasar pool o tx (Querier).
func NewContingencyRepository(q Querier) *ContingencyRepo {
	return &ContingencyRepo{q: q}
}

func scanPeriod(row interface{ Scan(dest ...any) error }) (*entity.ContingencyPeriod, error) {
	var p entity.ContingencyPeriod
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.EstablishmentID, &p.PointOfSaleID, &p.Ambiente,
		&p.FInicio, &p.HInicio, &p.FFin, &p.HFin,
		&p.TipoContingencia, &p.MotivoContingencia,
		&p.Status, &p.NeedsAttention, &p.Processing,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanEvent(row interface{ Scan(dest ...any) error }) (*entity.ContingencyEvent, error) {
	var e entity.ContingencyEvent
	err := row.Scan(
		&e.ID, &e.ContingencyPeriodID, &e.CodigoGeneracion,
		&e.CompanyID, &e.EstablishmentID, &e.PointOfSaleID, &e.Ambiente,
		&e.EventJSON, &e.EventSigned, &e.Estado, &e.SelloRecibido, &e.HaciendaResponse,
		&e.SubmittedAt, &e.AcceptedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreatePeriod inserta un período active. Pierde con domain.ErrDuplicate si
// otro período active ya existe para el punto de emisión (índice parcial).
func (r *ContingencyRepo) CreatePeriod(ctx context.Context, period *entity.ContingencyPeriod) error {
	query := `
		INSERT INTO contingency_periods (
			id, company_id, establishment_id, point_of_sale_id, ambiente,
			f_inicio, h_inicio, tipo_contingencia, motivo_contingencia,
			status, needs_attention, processing, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, false, $11, $12)`
	_, err := r.q.Exec(ctx, query,
		period.ID, period.CompanyID, period.EstablishmentID, period.PointOfSaleID, period.Ambiente,
		period.FInicio, period.HInicio, period.TipoContingencia, period.MotivoContingencia,
		period.Status, period.CreatedAt, period.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert period: %w", err)
	}
	return nil
}

// GetPeriodByID obtiene un período por ID.
func (r *ContingencyRepo) GetPeriodByID(ctx context.Context, id string) (*entity.ContingencyPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM contingency_periods WHERE id = $1`
	p, err := scanPeriod(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get period: %w", err)
	}
	return p, nil
}

// GetActivePeriod obtiene el período active del punto de emisión.
func (r *ContingencyRepo) GetActivePeriod(ctx context.Context, companyID, establishmentID, pointOfSaleID, ambiente string) (*entity.ContingencyPeriod, error) {
	query := `SELECT ` + periodColumns + `
		FROM contingency_periods
		WHERE company_id = $1 AND establishment_id = $2 AND point_of_sale_id = $3
		  AND ambiente = $4 AND status = $5`
	p, err := scanPeriod(r.q.QueryRow(ctx, query, companyID, establishmentID, pointOfSaleID, ambiente, entity.PeriodStatusActive))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get active period: %w", err)
	}
	return p, nil
}

// ListPeriods devuelve períodos según filtro, más recientes primero.
func (r *ContingencyRepo) ListPeriods(ctx context.Context, filter repository.PeriodFilter) ([]*entity.ContingencyPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM contingency_periods WHERE company_id = $1`
	args := []any{filter.CompanyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.NeedsAttention != nil {
		args = append(args, *filter.NeedsAttention)
		query += fmt.Sprintf(" AND needs_attention = $%d", len(args))
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
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var list []*entity.ContingencyPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ClosePeriod estampa el fin de ventana y congela el conjunto: active → reporting.
func (r *ContingencyRepo) ClosePeriod(ctx context.Context, id, fFin, hFin string) error {
	query := `
		UPDATE contingency_periods
		SET f_fin = $2, h_fin = $3, status = $4, updated_at = now()
		WHERE id = $1 AND status = $5`
	cmd, err := r.q.Exec(ctx, query, id, fFin, hFin, entity.PeriodStatusReporting, entity.PeriodStatusActive)
	if err != nil {
		return fmt.Errorf("close period: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// CompletePeriod pasa reporting → completed.
func (r *ContingencyRepo) CompletePeriod(ctx context.Context, id string) error {
	query := `
		UPDATE contingency_periods SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`
	cmd, err := r.q.Exec(ctx, query, id, entity.PeriodStatusCompleted, entity.PeriodStatusReporting)
	if err != nil {
		return fmt.Errorf("complete period: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetNeedsAttention marca o desmarca un período para intervención manual.
func (r *ContingencyRepo) SetNeedsAttention(ctx context.Context, id string, v bool) error {
	_, err := r.q.Exec(ctx,
		`UPDATE contingency_periods SET needs_attention = $2, updated_at = now() WHERE id = $1`,
		id, v)
	if err != nil {
		return fmt.Errorf("set needs attention: %w", err)
	}
	return nil
}

// claimPeriods toma períodos en el estado dado sin reclamar y los marca
// processing. FOR UPDATE SKIP LOCKED evita que dos workers tomen el mismo.
func (r *ContingencyRepo) claimPeriods(ctx context.Context, status string, limit int) ([]*entity.ContingencyPeriod, error) {
	query := `
		UPDATE contingency_periods SET processing = true, updated_at = now()
		WHERE id IN (
			SELECT id FROM contingency_periods
			WHERE status = $1 AND processing = false AND needs_attention = false
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + periodColumns
	rows, err := r.q.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("claim periods: %w", err)
	}
	defer rows.Close()

	var list []*entity.ContingencyPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ClaimActivePeriods toma períodos active para la sonda de recuperación.
func (r *ContingencyRepo) ClaimActivePeriods(ctx context.Context, limit int) ([]*entity.ContingencyPeriod, error) {
	return r.claimPeriods(ctx, entity.PeriodStatusActive, limit)
}

// ClaimReportingPeriods toma períodos reporting para armar lotes y verificar cierre.
func (r *ContingencyRepo) ClaimReportingPeriods(ctx context.Context, limit int) ([]*entity.ContingencyPeriod, error) {
	return r.claimPeriods(ctx, entity.PeriodStatusReporting, limit)
}

// ReleasePeriod suelta el claim del worker.
func (r *ContingencyRepo) ReleasePeriod(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx,
		`UPDATE contingency_periods SET processing = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release period: %w", err)
	}
	return nil
}

// CreateEvent inserta el evento de contingencia del período (uno por período).
func (r *ContingencyRepo) CreateEvent(ctx context.Context, event *entity.ContingencyEvent) error {
	query := `
		INSERT INTO contingency_events (
			id, contingency_period_id, codigo_generacion,
			company_id, establishment_id, point_of_sale_id, ambiente,
			event_json, event_signed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, query,
		event.ID, event.ContingencyPeriodID, event.CodigoGeneracion,
		event.CompanyID, event.EstablishmentID, event.PointOfSaleID, event.Ambiente,
		event.EventJSON, event.EventSigned, event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEventByID obtiene un evento por ID.
func (r *ContingencyRepo) GetEventByID(ctx context.Context, id string) (*entity.ContingencyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM contingency_events WHERE id = $1`
	e, err := scanEvent(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// GetEventByPeriod obtiene el evento asociado a un período.
func (r *ContingencyRepo) GetEventByPeriod(ctx context.Context, periodID string) (*entity.ContingencyEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM contingency_events WHERE contingency_period_id = $1`
	e, err := scanEvent(r.q.QueryRow(ctx, query, periodID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event by period: %w", err)
	}
	return e, nil
}

// ListEvents devuelve eventos del emisor, más recientes primero.
func (r *ContingencyRepo) ListEvents(ctx context.Context, companyID string, limit, offset int) ([]*entity.ContingencyEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM contingency_events WHERE company_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, companyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var list []*entity.ContingencyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// SetEventResult guarda la respuesta de Hacienda al evento. Si el estado es
// RECIBIDO también estampa accepted_at.
func (r *ContingencyRepo) SetEventResult(ctx context.Context, id string, estado, sello *string, response []byte) error {
	query := `
		UPDATE contingency_events
		SET estado = $2, sello_recibido = $3, hacienda_response = $4,
		    submitted_at = COALESCE(submitted_at, now()),
		    accepted_at = CASE WHEN $2 = 'RECIBIDO' THEN now() ELSE accepted_at END
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query, id, estado, sello, response)
	if err != nil {
		return fmt.Errorf("set event result: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
