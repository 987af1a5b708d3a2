package entity

import (
	"time"
)

// Catálogo CAT-005 de Hacienda: tipo de contingencia.
const (
	TipoContingenciaMHDown   = 1 // No disponibilidad del sistema del MH
	TipoContingenciaEmisor   = 2 // No disponibilidad del sistema del emisor
	TipoContingenciaInternet = 3 // Falla en el suministro de Internet
	TipoContingenciaEnergia  = 4 // Falla en el suministro de energía eléctrica
	TipoContingenciaOtro     = 5 // Otro (requiere motivo)
)

// IsValidTipoContingencia valida contra el catálogo CAT-005.
func IsValidTipoContingencia(tipo int) bool {
	return tipo >= TipoContingenciaMHDown && tipo <= TipoContingenciaOtro
}

// Tipos de falla observados por el submitter; se mapean a CAT-005 al abrir
// o reutilizar un período.
const (
	FailureFirmador       = "firmador_failed"
	FailureHaciendaAuth   = "hacienda_auth_failed"
	FailureHaciendaDown   = "hacienda_unreachable"
	FailureInternetOutage = "internet_outage"
	FailurePowerOutage    = "power_outage"
)

// Estados del período de contingencia. Ninguna transición salta un estado:
// active → reporting → completed.
const (
	PeriodStatusActive    = "active"    // acumulando documentos fallidos
	PeriodStatusReporting = "reporting" // conjunto congelado; evento emitido, lotes en curso
	PeriodStatusCompleted = "completed" // todos los lotes aceptados
)

// ContingencyPeriod representa una ventana de indisponibilidad. Existe a lo
// sumo un período active por punto de emisión (company, establishment, POS,
// ambiente); la unicidad la garantiza un índice parcial en la base.
type ContingencyPeriod struct {
	ID              string `json:"id"`
	CompanyID       string `json:"company_id"`
	EstablishmentID string `json:"establishment_id"`
	PointOfSaleID   string `json:"point_of_sale_id"`
	Ambiente        string `json:"ambiente"`

	// Fechas y horas separadas, como las exige el esquema del evento (v3).
	FInicio string  `json:"f_inicio"`
	HInicio string  `json:"h_inicio"`
	FFin    *string `json:"f_fin,omitempty"`
	HFin    *string `json:"h_fin,omitempty"`

	TipoContingencia   int     `json:"tipo_contingencia"`
	MotivoContingencia *string `json:"motivo_contingencia,omitempty"`

	Status string `json:"status"`
	// NeedsAttention marca períodos atascados (lote agotó reintentos);
	// requieren intervención manual del operador, nunca reintento infinito.
	NeedsAttention bool `json:"needs_attention"`
	// Processing es el claim del worker (FOR UPDATE SKIP LOCKED).
	Processing bool `json:"processing"`

	DocumentCount int `json:"document_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *ContingencyPeriod) IsActive() bool    { return p.Status == PeriodStatusActive }
func (p *ContingencyPeriod) IsReporting() bool { return p.Status == PeriodStatusReporting }
func (p *ContingencyPeriod) IsCompleted() bool { return p.Status == PeriodStatusCompleted }

// IsClosed indica si el período ya tiene estampado su fin de ventana.
func (p *ContingencyPeriod) IsClosed() bool {
	return p.FFin != nil && p.HFin != nil
}

// ContingencyEvent es la declaración de contingencia (evento tipo 15) que se
// firma y transmite a Hacienda al cerrar el período. Un evento por período.
type ContingencyEvent struct {
	ID                  string `json:"id"`
	ContingencyPeriodID string `json:"contingency_period_id"`
	CodigoGeneracion    string `json:"codigo_generacion"`
	CompanyID           string `json:"company_id"`
	EstablishmentID     string `json:"establishment_id"`
	PointOfSaleID       string `json:"point_of_sale_id"`
	Ambiente            string `json:"ambiente"`

	EventJSON        []byte  `json:"event_json"`
	EventSigned      string  `json:"event_signed"`
	Estado           *string `json:"estado,omitempty"`
	SelloRecibido    *string `json:"sello_recibido,omitempty"`
	HaciendaResponse []byte  `json:"hacienda_response,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsAccepted indica si Hacienda recibió el evento.
func (e *ContingencyEvent) IsAccepted() bool {
	return e.Estado != nil && *e.Estado == "RECIBIDO"
}

// Estados del lote.
const (
	LoteStatusPending   = "pending"   // construido, pendiente de transmisión
	LoteStatusSubmitted = "submitted" // recibido por Hacienda, esperando veredictos
	LoteStatusAccepted  = "accepted"  // todos los miembros con veredicto terminal
	LoteStatusFailed    = "failed"    // agotó el presupuesto de reintentos
)

// Lote es la unidad de transmisión en recuperación: un subconjunto acotado de
// los documentos del período más la referencia al evento de contingencia. Su
// membresía es inmutable una vez transmitido.
type Lote struct {
	ID                  string  `json:"id"`
	ContingencyPeriodID string  `json:"contingency_period_id"`
	ContingencyEventID  string  `json:"contingency_event_id"`
	CodigoLote          *string `json:"codigo_lote,omitempty"`
	CompanyID           string  `json:"company_id"`
	EstablishmentID     string  `json:"establishment_id"`
	PointOfSaleID       string  `json:"point_of_sale_id"`

	DocumentCount int    `json:"document_count"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	Processing    bool   `json:"processing"`

	HaciendaResponse []byte `json:"hacienda_response,omitempty"`

	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	LastPolledAt  *time.Time `json:"last_polled_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (l *Lote) IsPending() bool   { return l.Status == LoteStatusPending }
func (l *Lote) IsSubmitted() bool { return l.Status == LoteStatusSubmitted }
func (l *Lote) IsAccepted() bool  { return l.Status == LoteStatusAccepted }
func (l *Lote) IsFailed() bool    { return l.Status == LoteStatusFailed }
