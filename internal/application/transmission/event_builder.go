package transmission

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/formats"
)

// Esquema del Evento de Contingencia (versión 3).
const eventVersion = 3

type eventIdentificacion struct {
	Version          int    `json:"version"`
	Ambiente         string `json:"ambiente"`
	CodigoGeneracion string `json:"codigoGeneracion"`
	FTransmision     string `json:"fTransmision"`
	HTransmision     string `json:"hTransmision"`
}

type eventEmisor struct {
	NIT                  string  `json:"nit"`
	Nombre               string  `json:"nombre"`
	NombreResponsable    string  `json:"nombreResponsable"`
	TipoDocResponsable   string  `json:"tipoDocResponsable"`
	NumeroDocResponsable string  `json:"numeroDocResponsable"`
	TipoEstablecimiento  string  `json:"tipoEstablecimiento"`
	CodEstableMH         *string `json:"codEstableMH"`
	CodPuntoVenta        *string `json:"codPuntoVenta"`
	Telefono             string  `json:"telefono"`
	Correo               string  `json:"correo"`
}

type eventDetalleDTE struct {
	NoItem           int    `json:"noItem"`
	CodigoGeneracion string `json:"codigoGeneracion"`
	TipoDoc          string `json:"tipoDoc"`
}

type eventMotivo struct {
	FInicio            string  `json:"fInicio"`
	FFin               string  `json:"fFin"`
	HInicio            string  `json:"hInicio"`
	HFin               string  `json:"hFin"`
	TipoContingencia   int     `json:"tipoContingencia"`
	MotivoContingencia *string `json:"motivoContingencia"`
}

type contingencyEventBody struct {
	Identificacion eventIdentificacion `json:"identificacion"`
	Emisor         eventEmisor         `json:"emisor"`
	DetalleDTE     []eventDetalleDTE   `json:"detalleDTE"`
	Motivo         eventMotivo         `json:"motivo"`
}

// EventInput reúne todo lo necesario para armar el evento de un período cerrado.
type EventInput struct {
	Period        *entity.ContingencyPeriod
	Company       *entity.Company
	Establishment *entity.Establishment
	PointOfSale   *entity.PointOfSale
	Documents     []*entity.Document
}

// BuildContingencyEvent arma el JSON del evento (esquema v3) para el período.
// El período debe estar cerrado; el detalle admite hasta maxDTEs documentos.
// Devuelve el código de generación del evento y el cuerpo serializado.
func BuildContingencyEvent(in EventInput, maxDTEs int) (string, []byte, error) {
	p := in.Period
	if !p.IsClosed() {
		return "", nil, fmt.Errorf("el período %s no tiene fin de ventana estampado", p.ID)
	}
	if len(in.Documents) == 0 {
		return "", nil, fmt.Errorf("el período %s no tiene documentos", p.ID)
	}
	if len(in.Documents) > maxDTEs {
		return "", nil, fmt.Errorf("el período %s excede el máximo de %d DTEs por evento", p.ID, maxDTEs)
	}

	detalle := make([]eventDetalleDTE, 0, len(in.Documents))
	for i, doc := range in.Documents {
		if doc.CodigoGeneracion == nil {
			return "", nil, fmt.Errorf("documento %s sin código de generación", doc.ID)
		}
		detalle = append(detalle, eventDetalleDTE{
			NoItem:           i + 1,
			CodigoGeneracion: *doc.CodigoGeneracion,
			TipoDoc:          doc.TipoDTE,
		})
	}

	codigoGeneracion := strings.ToUpper(uuid.NewString())
	fTrans, hTrans := formats.FechaHora(formats.NowSV())

	body := contingencyEventBody{
		Identificacion: eventIdentificacion{
			Version:          eventVersion,
			Ambiente:         p.Ambiente,
			CodigoGeneracion: codigoGeneracion,
			FTransmision:     fTrans,
			HTransmision:     hTrans,
		},
		Emisor: eventEmisor{
			NIT:                  in.Company.NIT,
			Nombre:               in.Company.Nombre,
			NombreResponsable:    in.Company.Nombre,
			TipoDocResponsable:   "36", // NIT, catálogo CAT-022
			NumeroDocResponsable: in.Company.NIT,
			TipoEstablecimiento:  in.Establishment.Tipo,
			CodEstableMH:         &in.Establishment.CodEstable,
			CodPuntoVenta:        &in.PointOfSale.CodPuntoVenta,
			Telefono:             in.Company.Telefono,
			Correo:               in.Company.Correo,
		},
		DetalleDTE: detalle,
		Motivo: eventMotivo{
			FInicio:            p.FInicio,
			FFin:               *p.FFin,
			HInicio:            p.HInicio,
			HFin:               *p.HFin,
			TipoContingencia:   p.TipoContingencia,
			MotivoContingencia: p.MotivoContingencia,
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("marshal evento: %w", err)
	}
	return codigoGeneracion, raw, nil
}
