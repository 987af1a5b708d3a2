package entity

import "time"

// Actores que pueden registrar transiciones en el ledger.
const (
	LedgerActorSubmitter = "submitter" // ruta síncrona de recepción y transmisión
	LedgerActorWorker    = "worker"    // procesos de fondo (firma, lotes, sondeo)
	LedgerActorOperator  = "operator"  // intervención manual vía API
)

// LedgerEntry es una entrada inmutable del historial de transmisión. El ledger
// es append-only: nunca se edita ni se borra una entrada.
type LedgerEntry struct {
	Seq              int64     `json:"seq"`
	DocumentID       string    `json:"document_id"`
	CompanyID        string    `json:"company_id"`
	CodigoGeneracion *string   `json:"codigo_generacion,omitempty"`
	NumeroControl    string    `json:"numero_control"`
	FromStatus       string    `json:"from_status"`
	ToStatus         string    `json:"to_status"`
	Detail           string    `json:"detail"`
	Actor            string    `json:"actor"`
	CreatedAt        time.Time `json:"created_at"`
}

// FoldStatus reduce el historial al estado actual del documento. Con el
// ledger ordenado por seq, el estado es el ToStatus de la última entrada.
func FoldStatus(entries []LedgerEntry) string {
	if len(entries) == 0 {
		return DocStatusPending
	}
	return entries[len(entries)-1].ToStatus
}
