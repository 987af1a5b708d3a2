package transmission

import (
	"context"
	"time"

	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// TxRunner ejecuta un callback con repos atados a una misma transacción.
// Toda transición de documento se confirma junto con su entrada de ledger.
type TxRunner interface {
	Run(ctx context.Context, fn func(
		docRepo repository.DocumentRepository,
		ledgerRepo repository.LedgerRepository,
		contRepo repository.ContingencyRepository,
		loteRepo repository.LoteRepository,
	) error) error
}

// Tuning agrupa los parámetros operativos del motor de transmisión.
type Tuning struct {
	// MaxSignatureRetries agota la ruta de firma y encola en contingencia.
	MaxSignatureRetries int
	// MaxDTEsPerLote acota el tamaño de cada lote de recuperación.
	MaxDTEsPerLote int
	// MaxLoteAttempts agota el lote y marca el período needs_attention.
	MaxLoteAttempts int
	// LoteBackoffBase es la espera del primer reintento de lote; crece
	// exponencialmente en cada intento.
	LoteBackoffBase time.Duration
	// MaxDTEsPerEvent acota el detalle del evento de contingencia (esquema v3).
	MaxDTEsPerEvent int
}

// DefaultTuning son los valores de operación normales.
func DefaultTuning() Tuning {
	return Tuning{
		MaxSignatureRetries: 5,
		MaxDTEsPerLote:      50,
		MaxLoteAttempts:     6,
		LoteBackoffBase:     30 * time.Second,
		MaxDTEsPerEvent:     1000,
	}
}
