package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// LoteFilter acota listados de lotes.
type LoteFilter struct {
	CompanyID string
	PeriodID  string
	Status    string
	Limit     int
	Offset    int
}

// LoteRepository define el puerto de persistencia para lotes de recuperación.
type LoteRepository interface {
	Create(ctx context.Context, lote *entity.Lote) error
	GetByID(ctx context.Context, id string) (*entity.Lote, error)
	List(ctx context.Context, filter LoteFilter) ([]*entity.Lote, error)
	// CountOpenByPeriod cuenta los lotes del período que no están accepted;
	// mientras haya uno el período no puede completarse.
	CountOpenByPeriod(ctx context.Context, periodID string) (int, error)

	// ClaimSubmittable toma lotes pending cuyo next_attempt_at ya venció
	// (FOR UPDATE SKIP LOCKED) y los marca processing.
	ClaimSubmittable(ctx context.Context, now time.Time, limit int) ([]*entity.Lote, error)
	// ClaimPollable toma lotes submitted para sondear su veredicto.
	ClaimPollable(ctx context.Context, limit int) ([]*entity.Lote, error)
	Release(ctx context.Context, id string) error

	// MarkSubmitted registra la recepción del lote por Hacienda.
	MarkSubmitted(ctx context.Context, id, codigoLote string, response []byte) error
	// ScheduleRetry incrementa attempts y agenda el próximo intento.
	ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, response []byte) error
	// MarkFailed agota el lote; el período pasa a needs_attention aparte.
	MarkFailed(ctx context.Context, id string, response []byte) error
	// MarkAccepted cierra el lote cuando todos sus miembros tienen veredicto.
	MarkAccepted(ctx context.Context, id string, response []byte) error
	TouchPolled(ctx context.Context, id string, polledAt time.Time) error
}
