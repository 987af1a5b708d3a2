package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/formats"
	"github.com/jhoicas/dte-engine/internal/infrastructure/firmador"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// IssuingPoint identifica el punto de emisión de un período.
type IssuingPoint struct {
	CompanyID       string
	EstablishmentID string
	PointOfSaleID   string
	Ambiente        string
}

// PeriodService gobierna el ciclo de vida de los períodos de contingencia:
// apertura (o reutilización), cierre, emisión del evento y completitud.
type PeriodService struct {
	contRepo    repository.ContingencyRepository
	docRepo     repository.DocumentRepository
	loteRepo    repository.LoteRepository
	companyRepo repository.CompanyRepository
	ledgerRepo  repository.LedgerRepository
	signer      firmador.Signer
	hapi        hacienda.API
	tuning      Tuning
	logger      zerolog.Logger
}

// NewPeriodService construye el servicio de períodos.
func NewPeriodService(
	contRepo repository.ContingencyRepository,
	docRepo repository.DocumentRepository,
	loteRepo repository.LoteRepository,
	companyRepo repository.CompanyRepository,
	ledgerRepo repository.LedgerRepository,
	signer firmador.Signer,
	hapi hacienda.API,
	tuning Tuning,
	logger zerolog.Logger,
) *PeriodService {
	return &PeriodService{
		contRepo:    contRepo,
		docRepo:     docRepo,
		loteRepo:    loteRepo,
		companyRepo: companyRepo,
		ledgerRepo:  ledgerRepo,
		signer:      signer,
		hapi:        hapi,
		tuning:      tuning,
		logger:      logger,
	}
}

// tipoFromFailure mapea la falla observada al catálogo CAT-005.
func tipoFromFailure(failure string) int {
	switch failure {
	case entity.FailureHaciendaDown, entity.FailureHaciendaAuth:
		return entity.TipoContingenciaMHDown
	case entity.FailureFirmador:
		return entity.TipoContingenciaEmisor
	case entity.FailureInternetOutage:
		return entity.TipoContingenciaInternet
	case entity.FailurePowerOutage:
		return entity.TipoContingenciaEnergia
	default:
		return entity.TipoContingenciaOtro
	}
}

// OpenOrJoin devuelve el período active del punto de emisión, abriéndolo si
// no existe. La carrera de apertura la gana uno solo: el perdedor recibe
// ErrDuplicate del índice parcial y re-lee el período ganador.
func (s *PeriodService) OpenOrJoin(ctx context.Context, point IssuingPoint, failure string, motivo *string) (*entity.ContingencyPeriod, error) {
	if existing, err := s.contRepo.GetActivePeriod(ctx, point.CompanyID, point.EstablishmentID, point.PointOfSaleID, point.Ambiente); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	tipo := tipoFromFailure(failure)
	if tipo == entity.TipoContingenciaOtro && (motivo == nil || *motivo == "") {
		m := failure
		motivo = &m
	}

	now := formats.NowSV()
	fInicio, hInicio := formats.FechaHora(now)
	period := &entity.ContingencyPeriod{
		ID:                 uuid.NewString(),
		CompanyID:          point.CompanyID,
		EstablishmentID:    point.EstablishmentID,
		PointOfSaleID:      point.PointOfSaleID,
		Ambiente:           point.Ambiente,
		FInicio:            fInicio,
		HInicio:            hInicio,
		TipoContingencia:   tipo,
		MotivoContingencia: motivo,
		Status:             entity.PeriodStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.contRepo.CreatePeriod(ctx, period)
	if errors.Is(err, domain.ErrDuplicate) {
		// Otro submitter abrió primero; unirse al ganador.
		return s.contRepo.GetActivePeriod(ctx, point.CompanyID, point.EstablishmentID, point.PointOfSaleID, point.Ambiente)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Warn().
		Str("period_id", period.ID).
		Str("punto_venta", point.PointOfSaleID).
		Int("tipo_contingencia", tipo).
		Msg("período de contingencia abierto")
	return period, nil
}

// OpenManual abre (o reutiliza) un período por decisión del operador, por
// ejemplo ante un corte programado. El tipo debe venir del catálogo CAT-005 y
// el tipo 5 exige motivo.
func (s *PeriodService) OpenManual(ctx context.Context, point IssuingPoint, tipo int, motivo *string) (*entity.ContingencyPeriod, error) {
	if !entity.IsValidTipoContingencia(tipo) {
		return nil, domain.ErrInvalidInput
	}
	if tipo == entity.TipoContingenciaOtro && (motivo == nil || *motivo == "") {
		return nil, domain.ErrInvalidInput
	}

	if existing, err := s.contRepo.GetActivePeriod(ctx, point.CompanyID, point.EstablishmentID, point.PointOfSaleID, point.Ambiente); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := formats.NowSV()
	fInicio, hInicio := formats.FechaHora(now)
	period := &entity.ContingencyPeriod{
		ID:                 uuid.NewString(),
		CompanyID:          point.CompanyID,
		EstablishmentID:    point.EstablishmentID,
		PointOfSaleID:      point.PointOfSaleID,
		Ambiente:           point.Ambiente,
		FInicio:            fInicio,
		HInicio:            hInicio,
		TipoContingencia:   tipo,
		MotivoContingencia: motivo,
		Status:             entity.PeriodStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.contRepo.CreatePeriod(ctx, period)
	if errors.Is(err, domain.ErrDuplicate) {
		return s.contRepo.GetActivePeriod(ctx, point.CompanyID, point.EstablishmentID, point.PointOfSaleID, point.Ambiente)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("period_id", period.ID).
		Int("tipo_contingencia", tipo).
		Msg("período de contingencia abierto por operador")
	return period, nil
}

// Close cierra un período active: firma los documentos que quedaron sin firma,
// estampa el fin de ventana y congela la membresía (active → reporting). La
// emisión del evento y los lotes corren después, sobre el período reporting.
// Si el firmador sigue caído el cierre falla y el período permanece active.
func (s *PeriodService) Close(ctx context.Context, periodID, actor string) error {
	period, err := s.contRepo.GetPeriodByID(ctx, periodID)
	if err != nil {
		return err
	}
	if !period.IsActive() {
		return domain.ErrInvalidTransition
	}

	company, err := s.companyRepo.GetByID(ctx, period.CompanyID)
	if err != nil {
		return err
	}

	docs, err := s.docRepo.ListByPeriod(ctx, period.ID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return domain.ErrConflict
	}
	for _, doc := range docs {
		if doc.HasSignature() {
			continue
		}
		if err := s.signQueued(ctx, company, doc, actor); err != nil {
			return err
		}
	}

	fFin, hFin := formats.FechaHora(formats.NowSV())
	if err := s.contRepo.ClosePeriod(ctx, period.ID, fFin, hFin); err != nil {
		return err
	}
	s.logger.Info().
		Str("period_id", period.ID).
		Int("documentos", len(docs)).
		Str("actor", actor).
		Msg("período cerrado, conjunto congelado")
	return nil
}

// signQueued obtiene la firma de un documento encolado en contingencia. El
// estado no cambia: sigue queued_contingency, ahora con firma y código.
func (s *PeriodService) signQueued(ctx context.Context, company *entity.Company, doc *entity.Document, actor string) error {
	jws, err := s.signer.Sign(ctx, firmador.Credentials{NIT: company.NIT, Password: company.FirmadorPassword}, json.RawMessage(doc.Payload))
	if err != nil {
		return err
	}
	codigo := doc.CodigoGeneracion
	if codigo == nil {
		c := newCodigoGeneracion()
		codigo = &c
	}
	if err := s.docRepo.MarkSigned(ctx, doc.ID, *codigo, jws); err != nil {
		return err
	}
	doc.CodigoGeneracion = codigo
	doc.PayloadSigned = &jws

	entry := &entity.LedgerEntry{
		DocumentID:       doc.ID,
		CompanyID:        doc.CompanyID,
		CodigoGeneracion: codigo,
		NumeroControl:    doc.NumeroControl,
		FromStatus:       entity.DocStatusQueuedContingency,
		ToStatus:         entity.DocStatusQueuedContingency,
		Detail:           "firma obtenida en contingencia",
		Actor:            actor,
		CreatedAt:        time.Now(),
	}
	return s.ledgerRepo.Append(ctx, entry)
}

// EmitEvent arma, firma y transmite el evento de contingencia de un período
// reporting que aún no lo tiene aceptado. Idempotente: si el evento ya fue
// aceptado no hace nada.
func (s *PeriodService) EmitEvent(ctx context.Context, period *entity.ContingencyPeriod) (*entity.ContingencyEvent, error) {
	if existing, err := s.contRepo.GetEventByPeriod(ctx, period.ID); err == nil {
		if existing.IsAccepted() {
			return existing, nil
		}
		return s.submitEvent(ctx, period, existing)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	company, err := s.companyRepo.GetByID(ctx, period.CompanyID)
	if err != nil {
		return nil, err
	}
	establishment, err := s.companyRepo.GetEstablishment(ctx, period.EstablishmentID)
	if err != nil {
		return nil, err
	}
	pos, err := s.companyRepo.GetPointOfSale(ctx, period.PointOfSaleID)
	if err != nil {
		return nil, err
	}
	docs, err := s.docRepo.ListByPeriod(ctx, period.ID)
	if err != nil {
		return nil, err
	}

	codigo, eventJSON, err := BuildContingencyEvent(EventInput{
		Period:        period,
		Company:       company,
		Establishment: establishment,
		PointOfSale:   pos,
		Documents:     docs,
	}, s.tuning.MaxDTEsPerEvent)
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.Sign(ctx, firmador.Credentials{NIT: company.NIT, Password: company.FirmadorPassword}, eventJSON)
	if err != nil {
		return nil, err
	}

	event := &entity.ContingencyEvent{
		ID:                  uuid.NewString(),
		ContingencyPeriodID: period.ID,
		CodigoGeneracion:    codigo,
		CompanyID:           period.CompanyID,
		EstablishmentID:     period.EstablishmentID,
		PointOfSaleID:       period.PointOfSaleID,
		Ambiente:            period.Ambiente,
		EventJSON:           eventJSON,
		EventSigned:         signed,
		CreatedAt:           time.Now(),
	}
	if err := s.contRepo.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return s.contRepo.GetEventByPeriod(ctx, period.ID)
		}
		return nil, err
	}
	return s.submitEvent(ctx, period, event)
}

// submitEvent transmite el evento ya firmado y persiste el veredicto.
func (s *PeriodService) submitEvent(ctx context.Context, period *entity.ContingencyPeriod, event *entity.ContingencyEvent) (*entity.ContingencyEvent, error) {
	company, err := s.companyRepo.GetByID(ctx, period.CompanyID)
	if err != nil {
		return nil, err
	}

	result, err := s.hapi.SendEvent(ctx, hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}, event.EventSigned)
	if err != nil {
		if hacienda.IsRejection(err) && result != nil {
			estado := result.Estado
			_ = s.contRepo.SetEventResult(ctx, event.ID, &estado, nil, result.Raw)
			_ = s.contRepo.SetNeedsAttention(ctx, period.ID, true)
			s.logger.Error().
				Str("period_id", period.ID).
				Strs("observaciones", result.Observaciones).
				Msg("evento de contingencia rechazado")
		}
		return nil, err
	}

	estado := result.Estado
	sello := result.SelloRecibido
	if err := s.contRepo.SetEventResult(ctx, event.ID, &estado, &sello, result.Raw); err != nil {
		return nil, err
	}
	event.Estado = &estado
	event.SelloRecibido = &sello
	s.logger.Info().
		Str("period_id", period.ID).
		Str("codigo_generacion", event.CodigoGeneracion).
		Msg("evento de contingencia aceptado")
	return event, nil
}

// CheckCompletion pasa el período a completed cuando no quedan documentos sin
// lote y todos sus lotes están accepted. Un lote failed bloquea el cierre: el
// período queda needs_attention hasta que alguien lo resuelva.
func (s *PeriodService) CheckCompletion(ctx context.Context, period *entity.ContingencyPeriod) error {
	unbatched, err := s.docRepo.CountUnbatchedByPeriod(ctx, period.ID)
	if err != nil {
		return err
	}
	if unbatched > 0 {
		return nil
	}
	open, err := s.loteRepo.CountOpenByPeriod(ctx, period.ID)
	if err != nil {
		return err
	}
	if open > 0 {
		return nil
	}
	if err := s.contRepo.CompletePeriod(ctx, period.ID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	s.logger.Info().Str("period_id", period.ID).Msg("período de contingencia completado")
	return nil
}
