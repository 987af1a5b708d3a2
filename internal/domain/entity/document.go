package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados de transmisión de un DTE. El documento nunca se borra: solo avanza
// por esta máquina de estados y cada transición queda registrada en el ledger.
const (
	DocStatusPending           = "pending"            // payload validado, aún sin firmar
	DocStatusSigned            = "signed"             // sellado por el firmador, con código de generación
	DocStatusFailedSigning     = "failed_signing"     // el firmador no respondió; en cola de contingencia sin firma
	DocStatusQueuedContingency = "queued_contingency" // firmado pero Hacienda no disponible; espera lote
	DocStatusSubmitted         = "submitted"          // transmitido (individual o en lote), sin veredicto aún
	DocStatusAccepted          = "accepted"           // PROCESADO por Hacienda
	DocStatusRejected          = "rejected"           // RECHAZADO por Hacienda; terminal, no se reintenta
)

// docTransitions define las transiciones válidas de la máquina de estados.
var docTransitions = map[string][]string{
	DocStatusPending:           {DocStatusSigned, DocStatusFailedSigning},
	DocStatusSigned:            {DocStatusSubmitted, DocStatusQueuedContingency, DocStatusAccepted, DocStatusRejected},
	DocStatusFailedSigning:     {DocStatusQueuedContingency},
	DocStatusQueuedContingency: {DocStatusSubmitted},
	DocStatusSubmitted:         {DocStatusAccepted, DocStatusRejected},
}

// CanTransition indica si el paso from→to es válido en la máquina de estados.
func CanTransition(from, to string) bool {
	for _, next := range docTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus indica si el estado ya no admite más transiciones.
func IsTerminalStatus(status string) bool {
	return status == DocStatusAccepted || status == DocStatusRejected
}

// Document es un DTE listo para transmisión. El payload llega ya validado y
// totalizado desde el sistema emisor; este motor solo muta los campos de
// estado de transmisión, nunca los campos de negocio.
type Document struct {
	ID              string `json:"id"`
	CompanyID       string `json:"company_id"`
	EstablishmentID string `json:"establishment_id"`
	PointOfSaleID   string `json:"point_of_sale_id"`

	TipoDTE       string `json:"tipo_dte"`
	NumeroControl string `json:"numero_control"`
	// CodigoGeneracion se asigna una sola vez, al firmar con éxito.
	CodigoGeneracion *string `json:"codigo_generacion,omitempty"`
	Ambiente         string  `json:"ambiente"`

	TransmissionStatus string   `json:"transmission_status"`
	Payload            []byte   `json:"-"`
	PayloadSigned      *string  `json:"-"`
	Sello              *string  `json:"sello,omitempty"`
	Observaciones      []string `json:"observaciones,omitempty"`

	TotalAmount  decimal.Decimal `json:"total_amount"`
	FechaEmision time.Time       `json:"fecha_emision"`

	ContingencyPeriodID *string `json:"contingency_period_id,omitempty"`
	ContingencyEventID  *string `json:"contingency_event_id,omitempty"`
	LoteID              *string `json:"lote_id,omitempty"`
	SignatureRetryCount int     `json:"signature_retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSignature indica si el documento ya tiene el JWT firmado del firmador.
func (d *Document) HasSignature() bool {
	return d.PayloadSigned != nil && *d.PayloadSigned != ""
}

// InContingency indica si el documento pertenece a un período de contingencia.
func (d *Document) InContingency() bool {
	return d.ContingencyPeriodID != nil
}

// IsTerminal indica si el documento alcanzó accepted o rejected.
func (d *Document) IsTerminal() bool {
	return IsTerminalStatus(d.TransmissionStatus)
}
