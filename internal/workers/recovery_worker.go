package workers

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
	"github.com/jhoicas/dte-engine/pkg/config"
)

// RecoveryWorker corre los cuatro lazos de fondo del motor: reintento de
// firmas, sonda y cierre de períodos, transmisión de lotes y sondeo de
// veredictos. Varias instancias pueden correr a la vez: los claims con
// FOR UPDATE SKIP LOCKED reparten el trabajo sin pisarse.
type RecoveryWorker struct {
	submitter   *transmission.Submitter
	periods     *transmission.PeriodService
	lotes       *transmission.LoteService
	docRepo     repository.DocumentRepository
	contRepo    repository.ContingencyRepository
	loteRepo    repository.LoteRepository
	companyRepo repository.CompanyRepository
	hapi        hacienda.API
	cfg         config.WorkerConfig
	tuning      transmission.Tuning
	logger      zerolog.Logger

	wg sync.WaitGroup
}

// NewRecoveryWorker construye el worker de recuperación.
func NewRecoveryWorker(
	submitter *transmission.Submitter,
	periods *transmission.PeriodService,
	lotes *transmission.LoteService,
	docRepo repository.DocumentRepository,
	contRepo repository.ContingencyRepository,
	loteRepo repository.LoteRepository,
	companyRepo repository.CompanyRepository,
	hapi hacienda.API,
	cfg config.WorkerConfig,
	tuning transmission.Tuning,
	logger zerolog.Logger,
) *RecoveryWorker {
	return &RecoveryWorker{
		submitter:   submitter,
		periods:     periods,
		lotes:       lotes,
		docRepo:     docRepo,
		contRepo:    contRepo,
		loteRepo:    loteRepo,
		companyRepo: companyRepo,
		hapi:        hapi,
		cfg:         cfg,
		tuning:      tuning,
		logger:      logger.With().Str("componente", "recovery_worker").Logger(),
	}
}

// Start lanza los lazos; cada uno corre hasta que el contexto se cancele.
func (w *RecoveryWorker) Start(ctx context.Context) {
	w.run(ctx, "firma", w.cfg.SignatureInterval, w.signatureTick)
	w.run(ctx, "periodos", w.cfg.PeriodInterval, w.periodTick)
	w.run(ctx, "lote_envio", w.cfg.LoteSubmitInterval, w.loteSubmitTick)
	w.run(ctx, "lote_sondeo", w.cfg.LotePollInterval, w.lotePollTick)
	w.logger.Info().Msg("worker de recuperación iniciado")
}

// Wait bloquea hasta que todos los lazos terminen.
func (w *RecoveryWorker) Wait() {
	w.wg.Wait()
}

func (w *RecoveryWorker) run(ctx context.Context, name string, interval time.Duration, tick func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Str("lazo", name).Msg("lazo detenido")
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

// signatureTick reintenta la firma y transmisión de documentos pending que no
// agotaron su presupuesto de reintentos.
func (w *RecoveryWorker) signatureTick(ctx context.Context) {
	docs, err := w.docRepo.ListForSignatureRetry(ctx, w.tuning.MaxSignatureRetries, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("listar documentos para reintento de firma")
		return
	}
	for _, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		if doc.SignatureRetryCount == 0 {
			// Primer intento aún en manos de la ruta síncrona.
			continue
		}
		if err := w.submitter.Transmit(ctx, doc, entity.LedgerActorWorker); err != nil {
			w.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("reintento de transmisión fallido")
		}
	}
}

// periodTick atiende períodos active (sonda de disponibilidad y cierre) y
// reporting (evento, lotes y completitud).
func (w *RecoveryWorker) periodTick(ctx context.Context) {
	w.probeActivePeriods(ctx)
	w.driveReportingPeriods(ctx)
}

// probeActivePeriods cierra los períodos active cuyo punto de emisión ya
// recuperó conectividad con Hacienda.
func (w *RecoveryWorker) probeActivePeriods(ctx context.Context) {
	periods, err := w.contRepo.ClaimActivePeriods(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("reclamar períodos active")
		return
	}
	for _, period := range periods {
		if ctx.Err() != nil {
			return
		}
		if w.haciendaAvailable(ctx, period.CompanyID) {
			if err := w.periods.Close(ctx, period.ID, entity.LedgerActorWorker); err != nil {
				w.logger.Warn().Err(err).Str("period_id", period.ID).Msg("cierre de período fallido")
			}
		}
		if err := w.contRepo.ReleasePeriod(ctx, period.ID); err != nil {
			w.logger.Error().Err(err).Str("period_id", period.ID).Msg("liberar período")
		}
	}
}

// haciendaAvailable sondea la autenticación de Hacienda con una espera
// exponencial corta, para no cerrar un período por un parpadeo de red.
func (w *RecoveryWorker) haciendaAvailable(ctx context.Context, companyID string) bool {
	company, err := w.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		w.logger.Error().Err(err).Str("company_id", companyID).Msg("cargar emisor para sonda")
		return false
	}
	creds := hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	err = backoff.Retry(func() error {
		if err := w.hapi.Ping(ctx, creds); err != nil {
			if hacienda.IsUnavailable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	return err == nil
}

// driveReportingPeriods empuja los períodos reporting hacia completed:
// emite el evento si falta, arma lotes y verifica completitud.
func (w *RecoveryWorker) driveReportingPeriods(ctx context.Context) {
	periods, err := w.contRepo.ClaimReportingPeriods(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("reclamar períodos reporting")
		return
	}
	for _, period := range periods {
		if ctx.Err() != nil {
			return
		}
		w.driveReporting(ctx, period)
		if err := w.contRepo.ReleasePeriod(ctx, period.ID); err != nil {
			w.logger.Error().Err(err).Str("period_id", period.ID).Msg("liberar período")
		}
	}
}

func (w *RecoveryWorker) driveReporting(ctx context.Context, period *entity.ContingencyPeriod) {
	event, err := w.periods.EmitEvent(ctx, period)
	if err != nil {
		w.logger.Warn().Err(err).Str("period_id", period.ID).Msg("emisión de evento pendiente")
		return
	}
	if !event.IsAccepted() {
		return
	}
	if _, err := w.lotes.BuildLotes(ctx, period, event); err != nil {
		w.logger.Error().Err(err).Str("period_id", period.ID).Msg("armado de lotes fallido")
		return
	}
	if err := w.periods.CheckCompletion(ctx, period); err != nil {
		w.logger.Error().Err(err).Str("period_id", period.ID).Msg("verificación de completitud fallida")
	}
}

// loteSubmitTick transmite los lotes pending cuyo próximo intento ya venció.
func (w *RecoveryWorker) loteSubmitTick(ctx context.Context) {
	lotes, err := w.loteRepo.ClaimSubmittable(ctx, time.Now(), w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("reclamar lotes pending")
		return
	}
	for _, lote := range lotes {
		if ctx.Err() != nil {
			return
		}
		if err := w.lotes.Submit(ctx, lote); err != nil {
			w.logger.Warn().Err(err).Str("lote_id", lote.ID).Msg("transmisión de lote fallida")
		}
		if err := w.loteRepo.Release(ctx, lote.ID); err != nil {
			w.logger.Error().Err(err).Str("lote_id", lote.ID).Msg("liberar lote")
		}
	}
}

// lotePollTick sondea los veredictos de los lotes submitted.
func (w *RecoveryWorker) lotePollTick(ctx context.Context) {
	lotes, err := w.loteRepo.ClaimPollable(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("reclamar lotes submitted")
		return
	}
	for _, lote := range lotes {
		if ctx.Err() != nil {
			return
		}
		if err := w.lotes.Poll(ctx, lote); err != nil {
			w.logger.Warn().Err(err).Str("lote_id", lote.ID).Msg("sondeo de lote fallido")
		}
		if err := w.loteRepo.Release(ctx, lote.ID); err != nil {
			w.logger.Error().Err(err).Str("lote_id", lote.ID).Msg("liberar lote")
		}
	}
}
