package reconciliation

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/jhoicas/dte-engine/internal/application/dto"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/formats"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// clockSkewTolerance absorbe el desfase de reloj entre este motor y Hacienda
// al comparar tiempos de procesamiento.
const clockSkewTolerance = time.Minute

// UseCase contrasta los documentos transmitidos contra la vista de Hacienda,
// documento por documento, y clasifica cada diferencia.
type UseCase struct {
	docRepo     repository.DocumentRepository
	companyRepo repository.CompanyRepository
	hapi        hacienda.API
	logger      zerolog.Logger
}

// NewUseCase construye el caso de uso de conciliación.
func NewUseCase(
	docRepo repository.DocumentRepository,
	companyRepo repository.CompanyRepository,
	hapi hacienda.API,
	logger zerolog.Logger,
) *UseCase {
	return &UseCase{docRepo: docRepo, companyRepo: companyRepo, hapi: hapi, logger: logger}
}

// Reconcile consulta en Hacienda cada documento transmitido del rango y
// devuelve el resultado por documento más los totales. La corrida es de solo
// lectura: nunca muta el estado local.
func (uc *UseCase) Reconcile(ctx context.Context, companyID string, filter repository.DocumentFilter) (*dto.ReconciliationResponse, error) {
	company, err := uc.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	filter.CompanyID = companyID
	docs, err := uc.docRepo.ListForReconciliation(ctx, filter)
	if err != nil {
		return nil, err
	}

	creds := hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}
	resp := &dto.ReconciliationResponse{Rows: make([]dto.ReconciliationRow, 0, len(docs))}

	for _, doc := range docs {
		row := dto.ReconciliationRow{
			DocumentID:       doc.ID,
			CodigoGeneracion: *doc.CodigoGeneracion,
			NumeroControl:    doc.NumeroControl,
			TipoDTE:          doc.TipoDTE,
			FechaEmision:     doc.FechaEmision.Format(formats.FechaLayout),
			LocalStatus:      doc.TransmissionStatus,
		}

		result, err := uc.hapi.ConsultDTE(ctx, creds, doc.Ambiente, doc.TipoDTE, *doc.CodigoGeneracion, formats.FechaConsulta(doc.FechaEmision))
		switch {
		case hacienda.IsNotFound(err):
			row.Result = dto.ReconNotFound
			row.Discrepancies = []string{"hacienda no conoce el documento"}
			row.Detail = row.Discrepancies[0]
			resp.Summary.NotFound++
		case err != nil:
			row.Result = dto.ReconQueryError
			row.Detail = err.Error()
			resp.Summary.QueryErrors++
			uc.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("consulta de conciliación fallida")
		default:
			row.HaciendaEstado = result.Estado
			row.HaciendaSello = result.SelloRecibido
			row.HaciendaFechaEmision = result.FechaEmision
			row.FhProcesamiento = result.FhProcesamiento
			classify(&row, doc, result)
			switch row.Result {
			case dto.ReconMatched:
				resp.Summary.Matched++
			case dto.ReconDateMismatch:
				resp.Summary.DateMismatches++
			default:
				resp.Summary.Mismatched++
			}
		}
		resp.Summary.Total++
		resp.Rows = append(resp.Rows, row)
	}
	return resp, nil
}

// classify compara la vista local contra la de Hacienda campo por campo:
// estado, sello y fecha de emisión, más el tiempo de procesamiento con
// tolerancia de un minuto de desfase de reloj. Cada diferencia se acumula en
// Discrepancies; una diferencia de estado o sello clasifica mismatched, una
// solo de fechas clasifica date_mismatch.
func classify(row *dto.ReconciliationRow, doc *entity.Document, result *hacienda.ConsultResult) {
	expected := ""
	switch doc.TransmissionStatus {
	case entity.DocStatusAccepted:
		expected = "PROCESADO"
	case entity.DocStatusRejected:
		expected = "RECHAZADO"
	}

	if expected == "" {
		// Local submitted sin veredicto aplicado pero Hacienda sí lo tiene.
		row.Result = dto.ReconMismatched
		row.Discrepancies = append(row.Discrepancies, "hacienda tiene veredicto "+result.Estado+" sin aplicar localmente")
		row.Detail = strings.Join(row.Discrepancies, "; ")
		return
	}

	estadoOK := result.Estado == expected
	if !estadoOK {
		row.Discrepancies = append(row.Discrepancies, "local "+doc.TransmissionStatus+" vs hacienda "+result.Estado)
	}

	selloOK := true
	if doc.Sello != nil && result.SelloRecibido != "" && *doc.Sello != result.SelloRecibido {
		selloOK = false
		row.Discrepancies = append(row.Discrepancies, "sello local "+*doc.Sello+" vs hacienda "+result.SelloRecibido)
	}

	// Hacienda devuelve la fecha de emisión según el formato con que se
	// consultó; se acepta cualquiera de las dos representaciones.
	row.FechaEmisionMatches = true
	if result.FechaEmision != "" &&
		result.FechaEmision != doc.FechaEmision.Format(formats.FechaLayout) &&
		result.FechaEmision != formats.FechaConsulta(doc.FechaEmision) {
		row.FechaEmisionMatches = false
		row.Discrepancies = append(row.Discrepancies, "fecha de emisión local "+doc.FechaEmision.Format(formats.FechaLayout)+" vs hacienda "+result.FechaEmision)
	}

	fhOK := true
	if result.FhProcesamiento != "" {
		fh, err := formats.ParseFhProcesamiento(result.FhProcesamiento)
		if err != nil {
			fhOK = false
			row.Discrepancies = append(row.Discrepancies, "fhProcesamiento ilegible: "+result.FhProcesamiento)
		} else {
			diff := doc.UpdatedAt.Sub(fh)
			if diff < 0 {
				diff = -diff
			}
			if diff > clockSkewTolerance {
				fhOK = false
				row.Discrepancies = append(row.Discrepancies, "procesamiento local "+formats.InSV(doc.UpdatedAt).Format(formats.FhProcLayout)+" vs hacienda "+result.FhProcesamiento)
			}
		}
	}

	switch {
	case !estadoOK || !selloOK:
		row.Result = dto.ReconMismatched
	case !row.FechaEmisionMatches || !fhOK:
		row.Result = dto.ReconDateMismatch
	default:
		row.Result = dto.ReconMatched
		row.Matches = true
	}
	row.Detail = strings.Join(row.Discrepancies, "; ")
}
