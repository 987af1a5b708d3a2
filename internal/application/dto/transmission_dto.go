package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// CreateDocumentRequest body para POST /api/documents. El payload llega ya
// validado y totalizado desde el sistema emisor.
type CreateDocumentRequest struct {
	EstablishmentID string          `json:"establishment_id"`
	PointOfSaleID   string          `json:"point_of_sale_id"`
	TipoDTE         string          `json:"tipo_dte"`
	NumeroControl   string          `json:"numero_control"`
	Ambiente        string          `json:"ambiente"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	FechaEmision    string          `json:"fecha_emision"` // yyyy-MM-dd
	Payload         json.RawMessage `json:"payload"`
}

// DocumentResponse documento en respuestas.
type DocumentResponse struct {
	ID                  string          `json:"id"`
	CompanyID           string          `json:"company_id"`
	EstablishmentID     string          `json:"establishment_id"`
	PointOfSaleID       string          `json:"point_of_sale_id"`
	TipoDTE             string          `json:"tipo_dte"`
	NumeroControl       string          `json:"numero_control"`
	CodigoGeneracion    *string         `json:"codigo_generacion,omitempty"`
	Ambiente            string          `json:"ambiente"`
	TransmissionStatus  string          `json:"transmission_status"`
	Sello               *string         `json:"sello,omitempty"`
	Observaciones       []string        `json:"observaciones,omitempty"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	FechaEmision        string          `json:"fecha_emision"`
	ContingencyPeriodID *string         `json:"contingency_period_id,omitempty"`
	LoteID              *string         `json:"lote_id,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// ToDocumentResponse mapea la entidad al DTO de salida.
func ToDocumentResponse(d *entity.Document) DocumentResponse {
	return DocumentResponse{
		ID:                  d.ID,
		CompanyID:           d.CompanyID,
		EstablishmentID:     d.EstablishmentID,
		PointOfSaleID:       d.PointOfSaleID,
		TipoDTE:             d.TipoDTE,
		NumeroControl:       d.NumeroControl,
		CodigoGeneracion:    d.CodigoGeneracion,
		Ambiente:            d.Ambiente,
		TransmissionStatus:  d.TransmissionStatus,
		Sello:               d.Sello,
		Observaciones:       d.Observaciones,
		TotalAmount:         d.TotalAmount,
		FechaEmision:        d.FechaEmision.Format("2006-01-02"),
		ContingencyPeriodID: d.ContingencyPeriodID,
		LoteID:              d.LoteID,
		CreatedAt:           d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:           d.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// LedgerEntryResponse entrada de historial en respuestas.
type LedgerEntryResponse struct {
	Seq              int64   `json:"seq"`
	CodigoGeneracion *string `json:"codigo_generacion,omitempty"`
	NumeroControl    string  `json:"numero_control"`
	FromStatus       string  `json:"from_status"`
	ToStatus         string  `json:"to_status"`
	Detail           string  `json:"detail"`
	Actor            string  `json:"actor"`
	CreatedAt        string  `json:"created_at"`
}

// LedgerResponse historial completo de un documento más el estado que se
// deriva de replegarlo; el repliegue sirve de verificación cruzada contra la
// columna transmission_status.
type LedgerResponse struct {
	Status  string                `json:"status"`
	Entries []LedgerEntryResponse `json:"entries"`
}

// ToLedgerResponse mapea el historial completo de un documento.
func ToLedgerResponse(entries []entity.LedgerEntry) LedgerResponse {
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntryResponse{
			Seq:              e.Seq,
			CodigoGeneracion: e.CodigoGeneracion,
			NumeroControl:    e.NumeroControl,
			FromStatus:       e.FromStatus,
			ToStatus:         e.ToStatus,
			Detail:           e.Detail,
			Actor:            e.Actor,
			CreatedAt:        e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return LedgerResponse{Status: entity.FoldStatus(entries), Entries: out}
}

// OpenPeriodRequest body para POST /api/contingency/periods (apertura manual).
type OpenPeriodRequest struct {
	EstablishmentID    string  `json:"establishment_id"`
	PointOfSaleID      string  `json:"point_of_sale_id"`
	Ambiente           string  `json:"ambiente"`
	TipoContingencia   int     `json:"tipo_contingencia"`
	MotivoContingencia *string `json:"motivo_contingencia,omitempty"`
}

// PeriodResponse período de contingencia en respuestas.
type PeriodResponse struct {
	ID                 string  `json:"id"`
	CompanyID          string  `json:"company_id"`
	EstablishmentID    string  `json:"establishment_id"`
	PointOfSaleID      string  `json:"point_of_sale_id"`
	Ambiente           string  `json:"ambiente"`
	FInicio            string  `json:"f_inicio"`
	HInicio            string  `json:"h_inicio"`
	FFin               *string `json:"f_fin,omitempty"`
	HFin               *string `json:"h_fin,omitempty"`
	TipoContingencia   int     `json:"tipo_contingencia"`
	MotivoContingencia *string `json:"motivo_contingencia,omitempty"`
	Status             string  `json:"status"`
	NeedsAttention     bool    `json:"needs_attention"`
	DocumentCount      int     `json:"document_count"`
	CreatedAt          string  `json:"created_at"`
}

// ToPeriodResponse mapea la entidad al DTO de salida.
func ToPeriodResponse(p *entity.ContingencyPeriod) PeriodResponse {
	return PeriodResponse{
		ID:                 p.ID,
		CompanyID:          p.CompanyID,
		EstablishmentID:    p.EstablishmentID,
		PointOfSaleID:      p.PointOfSaleID,
		Ambiente:           p.Ambiente,
		FInicio:            p.FInicio,
		HInicio:            p.HInicio,
		FFin:               p.FFin,
		HFin:               p.HFin,
		TipoContingencia:   p.TipoContingencia,
		MotivoContingencia: p.MotivoContingencia,
		Status:             p.Status,
		NeedsAttention:     p.NeedsAttention,
		DocumentCount:      p.DocumentCount,
		CreatedAt:          p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// EventResponse evento de contingencia en respuestas.
type EventResponse struct {
	ID                  string  `json:"id"`
	ContingencyPeriodID string  `json:"contingency_period_id"`
	CodigoGeneracion    string  `json:"codigo_generacion"`
	Ambiente            string  `json:"ambiente"`
	Estado              *string `json:"estado,omitempty"`
	SelloRecibido       *string `json:"sello_recibido,omitempty"`
	SubmittedAt         *string `json:"submitted_at,omitempty"`
	AcceptedAt          *string `json:"accepted_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

// ToEventResponse mapea la entidad al DTO de salida.
func ToEventResponse(e *entity.ContingencyEvent) EventResponse {
	resp := EventResponse{
		ID:                  e.ID,
		ContingencyPeriodID: e.ContingencyPeriodID,
		CodigoGeneracion:    e.CodigoGeneracion,
		Ambiente:            e.Ambiente,
		Estado:              e.Estado,
		SelloRecibido:       e.SelloRecibido,
		CreatedAt:           e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.SubmittedAt != nil {
		s := e.SubmittedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.SubmittedAt = &s
	}
	if e.AcceptedAt != nil {
		s := e.AcceptedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.AcceptedAt = &s
	}
	return resp
}

// LoteResponse lote en respuestas.
type LoteResponse struct {
	ID                  string  `json:"id"`
	ContingencyPeriodID string  `json:"contingency_period_id"`
	CodigoLote          *string `json:"codigo_lote,omitempty"`
	DocumentCount       int     `json:"document_count"`
	Status              string  `json:"status"`
	Attempts            int     `json:"attempts"`
	SubmittedAt         *string `json:"submitted_at,omitempty"`
	CompletedAt         *string `json:"completed_at,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

// ToLoteResponse mapea la entidad al DTO de salida.
func ToLoteResponse(l *entity.Lote) LoteResponse {
	resp := LoteResponse{
		ID:                  l.ID,
		ContingencyPeriodID: l.ContingencyPeriodID,
		CodigoLote:          l.CodigoLote,
		DocumentCount:       l.DocumentCount,
		Status:              l.Status,
		Attempts:            l.Attempts,
		CreatedAt:           l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if l.SubmittedAt != nil {
		s := l.SubmittedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.SubmittedAt = &s
	}
	if l.CompletedAt != nil {
		s := l.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}
