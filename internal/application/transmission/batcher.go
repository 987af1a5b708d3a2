package transmission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// LoteService arma, transmite y sondea los lotes de recuperación de un
// período reporting.
type LoteService struct {
	docRepo     repository.DocumentRepository
	loteRepo    repository.LoteRepository
	contRepo    repository.ContingencyRepository
	companyRepo repository.CompanyRepository
	txRunner    TxRunner
	hapi        hacienda.API
	tuning      Tuning
	logger      zerolog.Logger
}

// NewLoteService construye el servicio de lotes.
func NewLoteService(
	docRepo repository.DocumentRepository,
	loteRepo repository.LoteRepository,
	contRepo repository.ContingencyRepository,
	companyRepo repository.CompanyRepository,
	txRunner TxRunner,
	hapi hacienda.API,
	tuning Tuning,
	logger zerolog.Logger,
) *LoteService {
	return &LoteService{
		docRepo:     docRepo,
		loteRepo:    loteRepo,
		contRepo:    contRepo,
		companyRepo: companyRepo,
		txRunner:    txRunner,
		hapi:        hapi,
		tuning:      tuning,
		logger:      logger,
	}
}

// BuildLotes particiona los documentos sin lote del período en lotes de a lo
// sumo MaxDTEsPerLote, en orden de creación. El particionado es determinista:
// correrlo dos veces produce los mismos cortes.
func (s *LoteService) BuildLotes(ctx context.Context, period *entity.ContingencyPeriod, event *entity.ContingencyEvent) (int, error) {
	built := 0
	for {
		docs, err := s.docRepo.ListUnbatchedByPeriod(ctx, period.ID, s.tuning.MaxDTEsPerLote)
		if err != nil {
			return built, err
		}
		if len(docs) == 0 {
			return built, nil
		}

		now := time.Now()
		lote := &entity.Lote{
			ID:                  uuid.NewString(),
			ContingencyPeriodID: period.ID,
			ContingencyEventID:  event.ID,
			CompanyID:           period.CompanyID,
			EstablishmentID:     period.EstablishmentID,
			PointOfSaleID:       period.PointOfSaleID,
			DocumentCount:       len(docs),
			Status:              entity.LoteStatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}

		err = s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, _ repository.LedgerRepository, _ repository.ContingencyRepository, loteRepo repository.LoteRepository) error {
			if err := loteRepo.Create(ctx, lote); err != nil {
				return err
			}
			return docRepo.AssignToLote(ctx, ids, lote.ID, event.ID)
		})
		if err != nil {
			return built, err
		}
		built++
		s.logger.Info().
			Str("period_id", period.ID).
			Str("lote_id", lote.ID).
			Int("documentos", len(docs)).
			Msg("lote armado")
	}
}

// Submit transmite un lote pending. Miembros queued_contingency pasan a
// submitted junto con el acuse; a partir de ahí la membresía es inmutable.
// Las fallas transitorias agendan un reintento con espera exponencial hasta
// agotar el presupuesto, que marca el lote failed y el período needs_attention.
func (s *LoteService) Submit(ctx context.Context, lote *entity.Lote) error {
	company, err := s.companyRepo.GetByID(ctx, lote.CompanyID)
	if err != nil {
		return err
	}
	docs, err := s.docRepo.ListByLote(ctx, lote.ID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("lote %s sin documentos", lote.ID)
	}

	// Guardas de reenvío tras una caída del proceso: si todos los miembros ya
	// tienen veredicto terminal el lote solo se cierra, y si el acuse de
	// Hacienda ya quedó registrado se retoma desde ahí sin retransmitir.
	terminales := 0
	for _, d := range docs {
		if d.IsTerminal() {
			terminales++
		}
	}
	if terminales == len(docs) {
		if err := s.loteRepo.MarkAccepted(ctx, lote.ID, lote.HaciendaResponse); err != nil {
			return err
		}
		lote.Status = entity.LoteStatusAccepted
		s.logger.Info().Str("lote_id", lote.ID).Msg("lote con veredictos previos, cierre sin retransmisión")
		return nil
	}
	if lote.CodigoLote != nil {
		s.logger.Info().
			Str("lote_id", lote.ID).
			Str("codigo_lote", *lote.CodigoLote).
			Msg("acuse previo registrado, no se retransmite")
		return s.registerReceipt(ctx, lote, docs, *lote.CodigoLote, lote.HaciendaResponse)
	}

	firmados := make([]string, 0, len(docs))
	for _, d := range docs {
		if !d.HasSignature() {
			return fmt.Errorf("documento %s del lote %s sin firma", d.ID, lote.ID)
		}
		firmados = append(firmados, *d.PayloadSigned)
	}

	req := hacienda.LoteRequest{
		Ambiente:   docs[0].Ambiente,
		IDEnvio:    lote.ID,
		Version:    2,
		NITEmisor:  company.NIT,
		Documentos: firmados,
	}
	receipt, err := s.hapi.SendLote(ctx, hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}, req)
	if err != nil {
		if hacienda.IsUnavailable(err) {
			return s.scheduleRetry(ctx, lote, err)
		}
		// Falla no transitoria del sobre completo: también consume intento,
		// porque repetir sin cambios da la misma respuesta.
		return s.scheduleRetry(ctx, lote, err)
	}

	if err := s.registerReceipt(ctx, lote, docs, receipt.CodigoLote, receipt.Raw); err != nil {
		return err
	}
	s.logger.Info().
		Str("lote_id", lote.ID).
		Str("codigo_lote", receipt.CodigoLote).
		Msg("lote recibido por hacienda")
	return nil
}

// registerReceipt registra el acuse del lote y mueve a submitted los miembros
// que siguen en queued_contingency, todo en una transacción. Los miembros que
// ya avanzaron se dejan como están, lo que vuelve la operación repetible.
func (s *LoteService) registerReceipt(ctx context.Context, lote *entity.Lote, docs []*entity.Document, codigoLote string, response []byte) error {
	err := s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, loteRepo repository.LoteRepository) error {
		if err := loteRepo.MarkSubmitted(ctx, lote.ID, codigoLote, response); err != nil {
			return err
		}
		now := time.Now()
		for _, d := range docs {
			if d.TransmissionStatus != entity.DocStatusQueuedContingency {
				continue
			}
			if err := docRepo.UpdateStatus(ctx, d.ID, entity.DocStatusQueuedContingency, entity.DocStatusSubmitted); err != nil {
				return err
			}
			if err := ledgerRepo.Append(ctx, &entity.LedgerEntry{
				DocumentID:       d.ID,
				CompanyID:        d.CompanyID,
				CodigoGeneracion: d.CodigoGeneracion,
				NumeroControl:    d.NumeroControl,
				FromStatus:       entity.DocStatusQueuedContingency,
				ToStatus:         entity.DocStatusSubmitted,
				Detail:           "transmitido en lote " + lote.ID,
				Actor:            entity.LedgerActorWorker,
				CreatedAt:        now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	lote.Status = entity.LoteStatusSubmitted
	lote.CodigoLote = &codigoLote
	return nil
}

// scheduleRetry administra el presupuesto de reintentos del lote.
func (s *LoteService) scheduleRetry(ctx context.Context, lote *entity.Lote, cause error) error {
	attempts := lote.Attempts + 1
	if attempts >= s.tuning.MaxLoteAttempts {
		if err := s.loteRepo.MarkFailed(ctx, lote.ID, []byte(cause.Error())); err != nil {
			return err
		}
		if err := s.contRepo.SetNeedsAttention(ctx, lote.ContingencyPeriodID, true); err != nil {
			return err
		}
		s.logger.Error().
			Err(cause).
			Str("lote_id", lote.ID).
			Str("period_id", lote.ContingencyPeriodID).
			Msg("lote agotó reintentos, período requiere atención")
		return nil
	}

	// Espera exponencial: base, 2x, 4x... acotada a una hora.
	delay := s.tuning.LoteBackoffBase << (attempts - 1)
	if delay > time.Hour {
		delay = time.Hour
	}
	next := time.Now().Add(delay)
	if err := s.loteRepo.ScheduleRetry(ctx, lote.ID, attempts, next, []byte(cause.Error())); err != nil {
		return err
	}
	s.logger.Warn().
		Err(cause).
		Str("lote_id", lote.ID).
		Int("intento", attempts).
		Dur("espera", delay).
		Msg("reintento de lote agendado")
	return nil
}

// Poll consulta los veredictos de un lote submitted y los aplica documento a
// documento. Cuando todos los miembros quedan terminales el lote cierra.
func (s *LoteService) Poll(ctx context.Context, lote *entity.Lote) error {
	if lote.CodigoLote == nil {
		return fmt.Errorf("lote %s submitted sin código de lote", lote.ID)
	}
	company, err := s.companyRepo.GetByID(ctx, lote.CompanyID)
	if err != nil {
		return err
	}

	status, err := s.hapi.ConsultLote(ctx, hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}, *lote.CodigoLote)
	if err != nil {
		if hacienda.IsUnavailable(err) {
			// Transitorio: el próximo tick vuelve a sondear.
			return s.loteRepo.TouchPolled(ctx, lote.ID, time.Now())
		}
		return err
	}

	verdicts := make(map[string]hacienda.LoteDocResult, len(status.Procesados)+len(status.Rechazados))
	accepted := make(map[string]bool, len(status.Procesados))
	for _, v := range status.Procesados {
		verdicts[v.CodigoGeneracion] = v
		accepted[v.CodigoGeneracion] = true
	}
	for _, v := range status.Rechazados {
		verdicts[v.CodigoGeneracion] = v
	}

	docs, err := s.docRepo.ListByLote(ctx, lote.ID)
	if err != nil {
		return err
	}

	pending := 0
	now := time.Now()
	for _, d := range docs {
		if d.IsTerminal() {
			continue
		}
		if d.CodigoGeneracion == nil {
			pending++
			continue
		}
		v, ok := verdicts[*d.CodigoGeneracion]
		if !ok {
			pending++
			continue
		}

		to := entity.DocStatusRejected
		var sello *string
		detail := "rechazado en lote " + lote.ID
		if accepted[*d.CodigoGeneracion] {
			to = entity.DocStatusAccepted
			if v.SelloRecibido != "" {
				sello = &v.SelloRecibido
			}
			detail = "aceptado en lote " + lote.ID
		}
		obs := v.Observaciones
		if v.DescripcionMsg != "" {
			obs = append(obs, v.DescripcionMsg)
		}

		err := s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
			if err := docRepo.SetResult(ctx, d.ID, entity.DocStatusSubmitted, to, sello, obs); err != nil {
				return err
			}
			return ledgerRepo.Append(ctx, &entity.LedgerEntry{
				DocumentID:       d.ID,
				CompanyID:        d.CompanyID,
				CodigoGeneracion: d.CodigoGeneracion,
				NumeroControl:    d.NumeroControl,
				FromStatus:       entity.DocStatusSubmitted,
				ToStatus:         to,
				Detail:           detail,
				Actor:            entity.LedgerActorWorker,
				CreatedAt:        now,
			})
		})
		if err != nil {
			return err
		}
	}

	if pending > 0 {
		return s.loteRepo.TouchPolled(ctx, lote.ID, now)
	}
	if err := s.loteRepo.MarkAccepted(ctx, lote.ID, status.Raw); err != nil {
		return err
	}
	s.logger.Info().Str("lote_id", lote.ID).Msg("lote con todos los veredictos aplicados")
	return nil
}
