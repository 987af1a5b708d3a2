package repository

import (
	"context"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// PeriodFilter acota listados de períodos de contingencia.
type PeriodFilter struct {
	CompanyID      string
	Status         string
	NeedsAttention *bool
	Limit          int
	Offset         int
}

// ContingencyRepository define el puerto de persistencia para períodos y
// eventos de contingencia.
type ContingencyRepository interface {
	// CreatePeriod inserta un período active. El índice parcial único por
	// punto de emisión hace que la inserción concurrente pierda con
	// domain.ErrDuplicate; el llamador debe re-leer el período ganador.
	CreatePeriod(ctx context.Context, period *entity.ContingencyPeriod) error
	GetPeriodByID(ctx context.Context, id string) (*entity.ContingencyPeriod, error)
	// GetActivePeriod devuelve el período active del punto de emisión, o
	// domain.ErrNotFound si no hay.
	GetActivePeriod(ctx context.Context, companyID, establishmentID, pointOfSaleID, ambiente string) (*entity.ContingencyPeriod, error)
	ListPeriods(ctx context.Context, filter PeriodFilter) ([]*entity.ContingencyPeriod, error)

	// ClosePeriod estampa fin de ventana y pasa active → reporting (CAS).
	ClosePeriod(ctx context.Context, id, fFin, hFin string) error
	// CompletePeriod pasa reporting → completed (CAS).
	CompletePeriod(ctx context.Context, id string) error
	SetNeedsAttention(ctx context.Context, id string, v bool) error

	// ClaimActivePeriods toma períodos active sin reclamar (FOR UPDATE SKIP
	// LOCKED) y los marca processing para la sonda de recuperación.
	ClaimActivePeriods(ctx context.Context, limit int) ([]*entity.ContingencyPeriod, error)
	// ClaimReportingPeriods toma períodos reporting sin reclamar, para
	// armar lotes y verificar su completitud.
	ClaimReportingPeriods(ctx context.Context, limit int) ([]*entity.ContingencyPeriod, error)
	ReleasePeriod(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, event *entity.ContingencyEvent) error
	GetEventByID(ctx context.Context, id string) (*entity.ContingencyEvent, error)
	GetEventByPeriod(ctx context.Context, periodID string) (*entity.ContingencyEvent, error)
	ListEvents(ctx context.Context, companyID string, limit, offset int) ([]*entity.ContingencyEvent, error)
	// SetEventResult guarda la respuesta de Hacienda al evento.
	SetEventResult(ctx context.Context, id string, estado, sello *string, response []byte) error
}
