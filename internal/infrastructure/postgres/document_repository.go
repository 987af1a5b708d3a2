package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que DocumentRepo implementa repository.DocumentRepository.
var _ repository.DocumentRepository = (*DocumentRepo)(nil)

const documentColumns = `
	id, company_id, establishment_id, point_of_sale_id,
	tipo_dte, numero_control, codigo_generacion, ambiente,
	transmission_status, payload, payload_signed, sello, observaciones,
	total_amount, fecha_emision,
	contingency_period_id, contingency_event_id, lote_id, signature_retry_count,
	created_at, updated_at`

// DocumentRepo implementación de DocumentRepository sobre PostgreSQL (usable con pool o tx).
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador de documentos. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

func scanDocument(row interface{ Scan(dest ...any) error }) (*entity.Document, error) {
	var d entity.Document
	err := row.Scan(
		&d.ID, &d.CompanyID, &d.EstablishmentID, &d.PointOfSaleID,
		&d.TipoDTE, &d.NumeroControl, &d.CodigoGeneracion, &d.Ambiente,
		&d.TransmissionStatus, &d.Payload, &d.PayloadSigned, &d.Sello, &d.Observaciones,
		&d.TotalAmount, &d.FechaEmision,
		&d.ContingencyPeriodID, &d.ContingencyEventID, &d.LoteID, &d.SignatureRetryCount,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create persiste un documento recién recibido (estado pending).
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	query := `
		INSERT INTO documents (
			id, company_id, establishment_id, point_of_sale_id,
			tipo_dte, numero_control, ambiente, transmission_status,
			payload, total_amount, fecha_emision, signature_retry_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.q.Exec(ctx, query,
		doc.ID, doc.CompanyID, doc.EstablishmentID, doc.PointOfSaleID,
		doc.TipoDTE, doc.NumeroControl, doc.Ambiente, doc.TransmissionStatus,
		doc.Payload, doc.TotalAmount, doc.FechaEmision, doc.SignatureRetryCount,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID obtiene un documento por ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// GetByCodigoGeneracion obtiene un documento por código de generación.
func (r *DocumentRepo) GetByCodigoGeneracion(ctx context.Context, companyID, codigo string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1 AND codigo_generacion = $2`
	d, err := scanDocument(r.q.QueryRow(ctx, query, companyID, codigo))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get document by codigo: %w", err)
	}
	return d, nil
}

// GetByNumeroControl obtiene un documento por número de control (idempotencia).
func (r *DocumentRepo) GetByNumeroControl(ctx context.Context, companyID, numeroControl string) (*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1 AND numero_control = $2`
	d, err := scanDocument(r.q.QueryRow(ctx, query, companyID, numeroControl))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get document by numero control: %w", err)
	}
	return d, nil
}

// List devuelve documentos según filtro, ordenados por created_at descendente.
func (r *DocumentRepo) List(ctx context.Context, filter repository.DocumentFilter) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1`
	args := []any{filter.CompanyID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND transmission_status = $%d", len(args))
	}
	if filter.TipoDTE != "" {
		args = append(args, filter.TipoDTE)
		query += fmt.Sprintf(" AND tipo_dte = $%d", len(args))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		query += fmt.Sprintf(" AND fecha_emision >= $%d", len(args))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		query += fmt.Sprintf(" AND fecha_emision <= $%d", len(args))
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
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// MarkSigned guarda la firma y el código de generación sin tocar el estado.
// COALESCE preserva un código ya asignado: se escribe una sola vez en la vida
// del documento.
func (r *DocumentRepo) MarkSigned(ctx context.Context, id, codigoGeneracion, payloadSigned string) error {
	query := `
		UPDATE documents
		SET codigo_generacion = COALESCE(codigo_generacion, $2),
		    payload_signed = $3,
		    updated_at = now()
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query, id, codigoGeneracion, payloadSigned)
	if err != nil {
		return fmt.Errorf("mark signed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus transiciona el estado con compare-and-set sobre el estado previo.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE documents SET transmission_status = $3, updated_at = now()
		WHERE id = $1 AND transmission_status = $2`
	cmd, err := r.q.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetResult guarda el veredicto de Hacienda junto con la transición de estado.
func (r *DocumentRepo) SetResult(ctx context.Context, id, from, to string, sello *string, observaciones []string) error {
	query := `
		UPDATE documents
		SET transmission_status = $3, sello = $4, observaciones = $5, updated_at = now()
		WHERE id = $1 AND transmission_status = $2`
	cmd, err := r.q.Exec(ctx, query, id, from, to, sello, observaciones)
	if err != nil {
		return fmt.Errorf("set result: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// IncrementSignatureRetry incrementa el contador de reintentos de firma y
// devuelve el nuevo valor.
func (r *DocumentRepo) IncrementSignatureRetry(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE documents SET signature_retry_count = signature_retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING signature_retry_count`
	var count int
	if err := r.q.QueryRow(ctx, query, id).Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("increment signature retry: %w", err)
	}
	return count, nil
}

// AssignToPeriod encola el documento en un período de contingencia.
func (r *DocumentRepo) AssignToPeriod(ctx context.Context, docID, periodID, status string) error {
	query := `
		UPDATE documents
		SET contingency_period_id = $2, transmission_status = $3, updated_at = now()
		WHERE id = $1 AND contingency_period_id IS NULL`
	cmd, err := r.q.Exec(ctx, query, docID, periodID, status)
	if err != nil {
		return fmt.Errorf("assign to period: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListByPeriod devuelve todos los documentos del período en orden de creación.
func (r *DocumentRepo) ListByPeriod(ctx context.Context, periodID string) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents WHERE contingency_period_id = $1 ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("list by period: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// ListUnbatchedByPeriod devuelve documentos del período sin lote asignado,
// ordenados por created_at y luego id para un particionado estable.
func (r *DocumentRepo) ListUnbatchedByPeriod(ctx context.Context, periodID string, limit int) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE contingency_period_id = $1 AND lote_id IS NULL
		ORDER BY created_at, id
		LIMIT $2`
	rows, err := r.q.Query(ctx, query, periodID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unbatched: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// AssignToLote marca la membresía de los documentos en un lote. Solo toma
// documentos aún sin lote: la membresía es de una sola escritura.
func (r *DocumentRepo) AssignToLote(ctx context.Context, docIDs []string, loteID, eventID string) error {
	query := `
		UPDATE documents
		SET lote_id = $2, contingency_event_id = $3, updated_at = now()
		WHERE id = ANY($1) AND lote_id IS NULL`
	cmd, err := r.q.Exec(ctx, query, docIDs, loteID, eventID)
	if err != nil {
		return fmt.Errorf("assign to lote: %w", err)
	}
	if int(cmd.RowsAffected()) != len(docIDs) {
		return domain.ErrConflict
	}
	return nil
}

// ListByLote devuelve los documentos miembros de un lote, en orden de creación.
func (r *DocumentRepo) ListByLote(ctx context.Context, loteID string) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents WHERE lote_id = $1 ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, loteID)
	if err != nil {
		return nil, fmt.Errorf("list by lote: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// CountByPeriod cuenta los documentos de un período.
func (r *DocumentRepo) CountByPeriod(ctx context.Context, periodID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM documents WHERE contingency_period_id = $1`, periodID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by period: %w", err)
	}
	return count, nil
}

// CountUnbatchedByPeriod cuenta los documentos del período aún sin lote.
func (r *DocumentRepo) CountUnbatchedByPeriod(ctx context.Context, periodID string) (int, error) {
	var count int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM documents WHERE contingency_period_id = $1 AND lote_id IS NULL`,
		periodID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unbatched: %w", err)
	}
	return count, nil
}

// ListForSignatureRetry devuelve documentos pending con reintentos disponibles.
func (r *DocumentRepo) ListForSignatureRetry(ctx context.Context, maxRetries, limit int) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE transmission_status = $1 AND signature_retry_count < $2
		ORDER BY created_at
		LIMIT $3`
	rows, err := r.q.Query(ctx, query, entity.DocStatusPending, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list for signature retry: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// ListForReconciliation devuelve documentos ya transmitidos (con código de
// generación) dentro del rango de fechas, para contrastar contra Hacienda.
func (r *DocumentRepo) ListForReconciliation(ctx context.Context, filter repository.DocumentFilter) ([]*entity.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE company_id = $1 AND codigo_generacion IS NOT NULL
		  AND transmission_status IN ($2, $3, $4)`
	args := []any{filter.CompanyID, entity.DocStatusSubmitted, entity.DocStatusAccepted, entity.DocStatusRejected}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND transmission_status = $%d", len(args))
	}
	if filter.TipoDTE != "" {
		args = append(args, filter.TipoDTE)
		query += fmt.Sprintf(" AND tipo_dte = $%d", len(args))
	}
	if filter.CodigoGeneracion != "" {
		args = append(args, filter.CodigoGeneracion)
		query += fmt.Sprintf(" AND codigo_generacion = $%d", len(args))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		query += fmt.Sprintf(" AND fecha_emision >= $%d", len(args))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		query += fmt.Sprintf(" AND fecha_emision <= $%d", len(args))
	}
	query += " ORDER BY fecha_emision, numero_control"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list for reconciliation: %w", err)
	}
	defer rows.Close()

	var list []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
