package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// DocumentFilter acota listados de documentos. Los campos en cero no filtran.
type DocumentFilter struct {
	CompanyID        string
	Status           string
	TipoDTE          string
	CodigoGeneracion string
	DateFrom         *time.Time
	DateTo           *time.Time
	Limit            int
	Offset           int
}

// DocumentRepository define el puerto de persistencia para Document (DIP).
// La implementación vive en infrastructure.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByCodigoGeneracion(ctx context.Context, companyID, codigo string) (*entity.Document, error)
	// GetByNumeroControl soporta la garantía de idempotencia en recepción.
	GetByNumeroControl(ctx context.Context, companyID, numeroControl string) (*entity.Document, error)
	List(ctx context.Context, filter DocumentFilter) ([]*entity.Document, error)

	// MarkSigned persiste firma y código de generación sin tocar el estado;
	// la transición de estado viaja aparte, en la misma tx. El código se
	// asigna una sola vez: si ya existe, la firma nueva lo conserva.
	MarkSigned(ctx context.Context, id, codigoGeneracion, payloadSigned string) error
	// UpdateStatus transiciona solo si el estado actual coincide con from
	// (compare-and-set). Devuelve domain.ErrInvalidTransition si no coincide.
	UpdateStatus(ctx context.Context, id, from, to string) error
	// SetResult guarda el veredicto de Hacienda: sello, observaciones y estado.
	SetResult(ctx context.Context, id, from, to string, sello *string, observaciones []string) error
	IncrementSignatureRetry(ctx context.Context, id string) (int, error)

	// AssignToPeriod encola el documento en un período de contingencia.
	AssignToPeriod(ctx context.Context, docID, periodID, status string) error
	// ListByPeriod devuelve todos los documentos del período en orden de creación.
	ListByPeriod(ctx context.Context, periodID string) ([]*entity.Document, error)
	// ListUnbatchedByPeriod devuelve documentos del período aún sin lote,
	// ordenados por created_at (particionado determinista).
	ListUnbatchedByPeriod(ctx context.Context, periodID string, limit int) ([]*entity.Document, error)
	AssignToLote(ctx context.Context, docIDs []string, loteID, eventID string) error
	ListByLote(ctx context.Context, loteID string) ([]*entity.Document, error)
	CountByPeriod(ctx context.Context, periodID string) (int, error)
	CountUnbatchedByPeriod(ctx context.Context, periodID string) (int, error)

	// ListForSignatureRetry devuelve documentos firmables pendientes que no
	// agotaron el presupuesto de reintentos de firma.
	ListForSignatureRetry(ctx context.Context, maxRetries, limit int) ([]*entity.Document, error)
	// ListForReconciliation devuelve documentos transmitidos en el rango,
	// para contrastar contra la consulta de Hacienda.
	ListForReconciliation(ctx context.Context, filter DocumentFilter) ([]*entity.Document, error)
}
