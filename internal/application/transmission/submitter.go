package transmission

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/jhoicas/dte-engine/internal/application/dto"
	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/formats"
	"github.com/jhoicas/dte-engine/internal/infrastructure/firmador"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// Versiones de esquema por tipo de DTE para el sobre de recepción.
var dteVersions = map[string]int{
	"01": 1, // factura
	"03": 3, // CCF
	"04": 1, // nota de remisión
	"05": 3, // nota de crédito
	"06": 3, // nota de débito
	"07": 1, // comprobante de retención
	"08": 1, // comprobante de liquidación
	"09": 1, // documento contable de liquidación
	"11": 1, // factura de exportación
	"14": 1, // factura sujeto excluido
	"15": 1, // comprobante de donación
}

func newCodigoGeneracion() string {
	return strings.ToUpper(uuid.NewString())
}

// Submitter es la ruta síncrona: recibe un DTE validado, lo firma, lo
// transmite y, cuando la infraestructura falla, lo encola en contingencia.
type Submitter struct {
	docRepo     repository.DocumentRepository
	companyRepo repository.CompanyRepository
	txRunner    TxRunner
	periods     *PeriodService
	signer      firmador.Signer
	hapi        hacienda.API
	tuning      Tuning
	logger      zerolog.Logger
}

// NewSubmitter construye la ruta síncrona de transmisión.
func NewSubmitter(
	docRepo repository.DocumentRepository,
	companyRepo repository.CompanyRepository,
	txRunner TxRunner,
	periods *PeriodService,
	signer firmador.Signer,
	hapi hacienda.API,
	tuning Tuning,
	logger zerolog.Logger,
) *Submitter {
	return &Submitter{
		docRepo:     docRepo,
		companyRepo: companyRepo,
		txRunner:    txRunner,
		periods:     periods,
		signer:      signer,
		hapi:        hapi,
		tuning:      tuning,
		logger:      logger,
	}
}

// Receive registra un DTE entrante. Es idempotente por número de control: un
// reenvío devuelve el documento existente sin crear otro.
func (s *Submitter) Receive(ctx context.Context, companyID string, in dto.CreateDocumentRequest) (*entity.Document, bool, error) {
	if in.EstablishmentID == "" || in.PointOfSaleID == "" || in.TipoDTE == "" || len(in.Payload) == 0 {
		return nil, false, domain.ErrInvalidInput
	}
	parts, err := entity.ParseNumeroControl(in.NumeroControl)
	if err != nil {
		return nil, false, domain.ErrInvalidInput
	}
	if parts.TipoDTE != in.TipoDTE {
		// El tipo declarado debe coincidir con el embebido en el número de control.
		return nil, false, domain.ErrInvalidInput
	}
	if _, ok := dteVersions[in.TipoDTE]; !ok {
		return nil, false, domain.ErrInvalidInput
	}
	fechaEmision, err := time.ParseInLocation(formats.FechaLayout, in.FechaEmision, time.UTC)
	if err != nil {
		return nil, false, domain.ErrInvalidInput
	}

	if existing, err := s.docRepo.GetByNumeroControl(ctx, companyID, in.NumeroControl); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	doc := &entity.Document{
		ID:                 uuid.NewString(),
		CompanyID:          companyID,
		EstablishmentID:    in.EstablishmentID,
		PointOfSaleID:      in.PointOfSaleID,
		TipoDTE:            in.TipoDTE,
		NumeroControl:      in.NumeroControl,
		Ambiente:           in.Ambiente,
		TransmissionStatus: entity.DocStatusPending,
		Payload:            in.Payload,
		TotalAmount:        in.TotalAmount,
		FechaEmision:       fechaEmision,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.Create(ctx, doc); err != nil {
			return err
		}
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:    doc.ID,
			CompanyID:     doc.CompanyID,
			NumeroControl: doc.NumeroControl,
			FromStatus:    "",
			ToStatus:      entity.DocStatusPending,
			Detail:        "documento recibido",
			Actor:         entity.LedgerActorSubmitter,
			CreatedAt:     now,
		})
	})
	if errors.Is(err, domain.ErrDuplicate) {
		// Carrera con otro reenvío del mismo número de control.
		existing, gerr := s.docRepo.GetByNumeroControl(ctx, companyID, in.NumeroControl)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Transmit ejecuta el intento de transmisión de un documento pending: firma y
// envío individual. Las fallas de infraestructura desvían a contingencia; los
// rechazos son terminales. El actor distingue la ruta síncrona del worker.
func (s *Submitter) Transmit(ctx context.Context, doc *entity.Document, actor string) error {
	if doc.TransmissionStatus != entity.DocStatusPending {
		return domain.ErrInvalidTransition
	}

	company, err := s.companyRepo.GetByID(ctx, doc.CompanyID)
	if err != nil {
		return err
	}

	if !doc.HasSignature() {
		if err := s.sign(ctx, company, doc, actor); err != nil {
			return err
		}
	} else {
		// Firma previa de un intento que no llegó a transmitir.
		if err := s.transitionTo(ctx, doc, entity.DocStatusSigned, "firma previa reutilizada", actor); err != nil {
			return err
		}
	}

	return s.send(ctx, company, doc, actor)
}

// sign obtiene firma y código de generación: pending → signed. Si el firmador
// falla, el contador de reintentos decide entre esperar al worker o encolar
// el documento sin firma en contingencia.
func (s *Submitter) sign(ctx context.Context, company *entity.Company, doc *entity.Document, actor string) error {
	jws, err := s.signer.Sign(ctx, firmador.Credentials{NIT: company.NIT, Password: company.FirmadorPassword}, json.RawMessage(doc.Payload))
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("falla de firma")
		return s.onSignFailure(ctx, doc, actor)
	}

	codigo := newCodigoGeneracion()
	if doc.CodigoGeneracion != nil {
		codigo = *doc.CodigoGeneracion
	}

	err = s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.MarkSigned(ctx, doc.ID, codigo, jws); err != nil {
			return err
		}
		if err := docRepo.UpdateStatus(ctx, doc.ID, entity.DocStatusPending, entity.DocStatusSigned); err != nil {
			return err
		}
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:       doc.ID,
			CompanyID:        doc.CompanyID,
			CodigoGeneracion: &codigo,
			NumeroControl:    doc.NumeroControl,
			FromStatus:       entity.DocStatusPending,
			ToStatus:         entity.DocStatusSigned,
			Detail:           "firmado por el firmador",
			Actor:            actor,
			CreatedAt:        time.Now(),
		})
	})
	if err != nil {
		return err
	}
	doc.CodigoGeneracion = &codigo
	doc.PayloadSigned = &jws
	doc.TransmissionStatus = entity.DocStatusSigned
	return nil
}

// onSignFailure administra el presupuesto de reintentos de firma. Agotado el
// presupuesto: pending → failed_signing → queued_contingency en un período
// abierto por falla del emisor.
func (s *Submitter) onSignFailure(ctx context.Context, doc *entity.Document, actor string) error {
	count, err := s.docRepo.IncrementSignatureRetry(ctx, doc.ID)
	if err != nil {
		return err
	}
	doc.SignatureRetryCount = count
	if count < s.tuning.MaxSignatureRetries {
		// El worker de firma reintentará; el documento sigue pending.
		return nil
	}

	period, err := s.periods.OpenOrJoin(ctx, IssuingPoint{
		CompanyID:       doc.CompanyID,
		EstablishmentID: doc.EstablishmentID,
		PointOfSaleID:   doc.PointOfSaleID,
		Ambiente:        doc.Ambiente,
	}, entity.FailureFirmador, nil)
	if err != nil {
		return err
	}

	now := time.Now()
	return s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.UpdateStatus(ctx, doc.ID, entity.DocStatusPending, entity.DocStatusFailedSigning); err != nil {
			return err
		}
		if err := ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:    doc.ID,
			CompanyID:     doc.CompanyID,
			NumeroControl: doc.NumeroControl,
			FromStatus:    entity.DocStatusPending,
			ToStatus:      entity.DocStatusFailedSigning,
			Detail:        "reintentos de firma agotados",
			Actor:         actor,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := docRepo.AssignToPeriod(ctx, doc.ID, period.ID, entity.DocStatusQueuedContingency); err != nil {
			return err
		}
		doc.TransmissionStatus = entity.DocStatusQueuedContingency
		doc.ContingencyPeriodID = &period.ID
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:    doc.ID,
			CompanyID:     doc.CompanyID,
			NumeroControl: doc.NumeroControl,
			FromStatus:    entity.DocStatusFailedSigning,
			ToStatus:      entity.DocStatusQueuedContingency,
			Detail:        "encolado en período " + period.ID,
			Actor:         actor,
			CreatedAt:     now,
		})
	})
}

// send transmite un documento signed por la vía individual y persiste el
// veredicto. Indisponibilidad de Hacienda desvía a contingencia.
func (s *Submitter) send(ctx context.Context, company *entity.Company, doc *entity.Document, actor string) error {
	creds := hacienda.Credentials{User: company.HaciendaUser, Password: company.HaciendaPassword}
	req := hacienda.SendRequest{
		Ambiente:         doc.Ambiente,
		IDEnvio:          rand.Intn(9_999_999) + 1,
		Version:          dteVersions[doc.TipoDTE],
		TipoDTE:          doc.TipoDTE,
		CodigoGeneracion: *doc.CodigoGeneracion,
		Documento:        *doc.PayloadSigned,
	}

	result, err := s.hapi.Send(ctx, creds, req)
	switch {
	case err == nil:
		return s.settle(ctx, doc, entity.DocStatusSigned, entity.DocStatusAccepted, &result.SelloRecibido, result.Observaciones, "aceptado por hacienda", actor)
	case hacienda.IsRejection(err):
		var obs []string
		if result != nil {
			obs = result.Observaciones
		}
		return s.settle(ctx, doc, entity.DocStatusSigned, entity.DocStatusRejected, nil, obs, "rechazado por hacienda", actor)
	case hacienda.IsUnavailable(err):
		return s.queueContingency(ctx, doc, entity.FailureHaciendaDown, actor)
	default:
		// Error de validación del sobre: el documento queda signed para
		// diagnóstico; no abre contingencia ni reintenta.
		s.logger.Error().Err(err).Str("document_id", doc.ID).Msg("transmisión con error de validación")
		return err
	}
}

// settle confirma el veredicto terminal con su entrada de ledger.
func (s *Submitter) settle(ctx context.Context, doc *entity.Document, from, to string, sello *string, obs []string, detail, actor string) error {
	err := s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.SetResult(ctx, doc.ID, from, to, sello, obs); err != nil {
			return err
		}
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:       doc.ID,
			CompanyID:        doc.CompanyID,
			CodigoGeneracion: doc.CodigoGeneracion,
			NumeroControl:    doc.NumeroControl,
			FromStatus:       from,
			ToStatus:         to,
			Detail:           detail,
			Actor:            actor,
			CreatedAt:        time.Now(),
		})
	})
	if err != nil {
		return err
	}
	doc.TransmissionStatus = to
	doc.Sello = sello
	doc.Observaciones = obs
	if to == entity.DocStatusRejected {
		s.logger.Warn().Str("document_id", doc.ID).Strs("observaciones", obs).Msg("DTE rechazado")
	}
	return nil
}

// queueContingency encola un documento signed en el período del punto de emisión.
func (s *Submitter) queueContingency(ctx context.Context, doc *entity.Document, failure, actor string) error {
	period, err := s.periods.OpenOrJoin(ctx, IssuingPoint{
		CompanyID:       doc.CompanyID,
		EstablishmentID: doc.EstablishmentID,
		PointOfSaleID:   doc.PointOfSaleID,
		Ambiente:        doc.Ambiente,
	}, failure, nil)
	if err != nil {
		return err
	}

	return s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.AssignToPeriod(ctx, doc.ID, period.ID, entity.DocStatusQueuedContingency); err != nil {
			return err
		}
		doc.TransmissionStatus = entity.DocStatusQueuedContingency
		doc.ContingencyPeriodID = &period.ID
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:       doc.ID,
			CompanyID:        doc.CompanyID,
			CodigoGeneracion: doc.CodigoGeneracion,
			NumeroControl:    doc.NumeroControl,
			FromStatus:       entity.DocStatusSigned,
			ToStatus:         entity.DocStatusQueuedContingency,
			Detail:           "hacienda no disponible, encolado en período " + period.ID,
			Actor:            actor,
			CreatedAt:        time.Now(),
		})
	})
}

// transitionTo registra una transición simple con su entrada de ledger.
func (s *Submitter) transitionTo(ctx context.Context, doc *entity.Document, to, detail, actor string) error {
	from := doc.TransmissionStatus
	err := s.txRunner.Run(ctx, func(docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository, _ repository.ContingencyRepository, _ repository.LoteRepository) error {
		if err := docRepo.UpdateStatus(ctx, doc.ID, from, to); err != nil {
			return err
		}
		return ledgerRepo.Append(ctx, &entity.LedgerEntry{
			DocumentID:       doc.ID,
			CompanyID:        doc.CompanyID,
			CodigoGeneracion: doc.CodigoGeneracion,
			NumeroControl:    doc.NumeroControl,
			FromStatus:       from,
			ToStatus:         to,
			Detail:           detail,
			Actor:            actor,
			CreatedAt:        time.Now(),
		})
	})
	if err != nil {
		return err
	}
	doc.TransmissionStatus = to
	return nil
}
