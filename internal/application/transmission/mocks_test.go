package transmission_test

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/infrastructure/firmador"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de test: repositorios en memoria sobre un único almacén compartido,
// firmador y Hacienda programables por función. El TxRunner de test ejecuta el
// callback directo, sin transacción: la atomicidad se prueba contra PostgreSQL,
// aquí se prueba la lógica.
// ──────────────────────────────────────────────────────────────────────────────

type memStore struct {
	docs      map[string]*entity.Document
	ledger    []entity.LedgerEntry
	periods   map[string]*entity.ContingencyPeriod
	events    map[string]*entity.ContingencyEvent
	lotes     map[string]*entity.Lote
	companies map[string]*entity.Company
	estabs    map[string]*entity.Establishment
	pos       map[string]*entity.PointOfSale
	seq       int64
}

func newMemStore() *memStore {
	return &memStore{
		docs:      map[string]*entity.Document{},
		periods:   map[string]*entity.ContingencyPeriod{},
		events:    map[string]*entity.ContingencyEvent{},
		lotes:     map[string]*entity.Lote{},
		companies: map[string]*entity.Company{},
		estabs:    map[string]*entity.Establishment{},
		pos:       map[string]*entity.PointOfSale{},
	}
}

// ── DocumentRepository ────────────────────────────────────────────────────────

type memDocRepo struct{ st *memStore }

var _ repository.DocumentRepository = (*memDocRepo)(nil)

func (r *memDocRepo) Create(_ context.Context, doc *entity.Document) error {
	for _, d := range r.st.docs {
		if d.CompanyID == doc.CompanyID && d.NumeroControl == doc.NumeroControl {
			return domain.ErrDuplicate
		}
	}
	r.st.docs[doc.ID] = doc
	return nil
}

func (r *memDocRepo) GetByID(_ context.Context, id string) (*entity.Document, error) {
	if d, ok := r.st.docs[id]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memDocRepo) GetByCodigoGeneracion(_ context.Context, companyID, codigo string) (*entity.Document, error) {
	for _, d := range r.st.docs {
		if d.CompanyID == companyID && d.CodigoGeneracion != nil && *d.CodigoGeneracion == codigo {
			return d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memDocRepo) GetByNumeroControl(_ context.Context, companyID, numeroControl string) (*entity.Document, error) {
	for _, d := range r.st.docs {
		if d.CompanyID == companyID && d.NumeroControl == numeroControl {
			return d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memDocRepo) List(_ context.Context, filter repository.DocumentFilter) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if filter.CompanyID != "" && d.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && d.TransmissionStatus != filter.Status {
			continue
		}
		out = append(out, d)
	}
	sortDocs(out)
	return out, nil
}

func (r *memDocRepo) MarkSigned(_ context.Context, id, codigoGeneracion, payloadSigned string) error {
	d, ok := r.st.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.CodigoGeneracion == nil {
		d.CodigoGeneracion = &codigoGeneracion
	}
	d.PayloadSigned = &payloadSigned
	return nil
}

func (r *memDocRepo) UpdateStatus(_ context.Context, id, from, to string) error {
	d, ok := r.st.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if d.TransmissionStatus != from {
		return domain.ErrInvalidTransition
	}
	d.TransmissionStatus = to
	return nil
}

func (r *memDocRepo) SetResult(_ context.Context, id, from, to string, sello *string, observaciones []string) error {
	if err := r.UpdateStatus(context.Background(), id, from, to); err != nil {
		return err
	}
	d := r.st.docs[id]
	d.Sello = sello
	d.Observaciones = observaciones
	return nil
}

func (r *memDocRepo) IncrementSignatureRetry(_ context.Context, id string) (int, error) {
	d, ok := r.st.docs[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	d.SignatureRetryCount++
	return d.SignatureRetryCount, nil
}

func (r *memDocRepo) AssignToPeriod(_ context.Context, docID, periodID, status string) error {
	d, ok := r.st.docs[docID]
	if !ok {
		return domain.ErrNotFound
	}
	d.ContingencyPeriodID = &periodID
	d.TransmissionStatus = status
	return nil
}

func (r *memDocRepo) ListByPeriod(_ context.Context, periodID string) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if d.ContingencyPeriodID != nil && *d.ContingencyPeriodID == periodID {
			out = append(out, d)
		}
	}
	sortDocs(out)
	return out, nil
}

func (r *memDocRepo) ListUnbatchedByPeriod(_ context.Context, periodID string, limit int) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if d.ContingencyPeriodID != nil && *d.ContingencyPeriodID == periodID && d.LoteID == nil {
			out = append(out, d)
		}
	}
	sortDocs(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDocRepo) AssignToLote(_ context.Context, docIDs []string, loteID, eventID string) error {
	for _, id := range docIDs {
		d, ok := r.st.docs[id]
		if !ok || d.LoteID != nil {
			return domain.ErrConflict
		}
		d.LoteID = &loteID
		d.ContingencyEventID = &eventID
	}
	return nil
}

func (r *memDocRepo) ListByLote(_ context.Context, loteID string) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if d.LoteID != nil && *d.LoteID == loteID {
			out = append(out, d)
		}
	}
	sortDocs(out)
	return out, nil
}

func (r *memDocRepo) CountByPeriod(ctx context.Context, periodID string) (int, error) {
	docs, _ := r.ListByPeriod(ctx, periodID)
	return len(docs), nil
}

func (r *memDocRepo) CountUnbatchedByPeriod(ctx context.Context, periodID string) (int, error) {
	docs, _ := r.ListUnbatchedByPeriod(ctx, periodID, 1<<30)
	return len(docs), nil
}

func (r *memDocRepo) ListForSignatureRetry(_ context.Context, maxRetries, limit int) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if d.TransmissionStatus == entity.DocStatusPending && d.SignatureRetryCount > 0 && d.SignatureRetryCount < maxRetries {
			out = append(out, d)
		}
	}
	sortDocs(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDocRepo) ListForReconciliation(_ context.Context, filter repository.DocumentFilter) ([]*entity.Document, error) {
	var out []*entity.Document
	for _, d := range r.st.docs {
		if d.CompanyID != filter.CompanyID {
			continue
		}
		switch d.TransmissionStatus {
		case entity.DocStatusSubmitted, entity.DocStatusAccepted, entity.DocStatusRejected:
			out = append(out, d)
		}
	}
	sortDocs(out)
	return out, nil
}

func sortDocs(docs []*entity.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}

// ── LedgerRepository ──────────────────────────────────────────────────────────

type memLedgerRepo struct{ st *memStore }

var _ repository.LedgerRepository = (*memLedgerRepo)(nil)

func (r *memLedgerRepo) Append(_ context.Context, entry *entity.LedgerEntry) error {
	r.st.seq++
	entry.Seq = r.st.seq
	r.st.ledger = append(r.st.ledger, *entry)
	return nil
}

func (r *memLedgerRepo) ListByDocument(_ context.Context, documentID string) ([]entity.LedgerEntry, error) {
	var out []entity.LedgerEntry
	for _, e := range r.st.ledger {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── ContingencyRepository ─────────────────────────────────────────────────────

type memContRepo struct {
	st *memStore
	// createPeriodHook permite inyectar una carrera: se ejecuta antes del insert.
	createPeriodHook func()
}

var _ repository.ContingencyRepository = (*memContRepo)(nil)

func (r *memContRepo) CreatePeriod(_ context.Context, period *entity.ContingencyPeriod) error {
	if r.createPeriodHook != nil {
		r.createPeriodHook()
	}
	for _, p := range r.st.periods {
		if p.Status == entity.PeriodStatusActive &&
			p.CompanyID == period.CompanyID && p.EstablishmentID == period.EstablishmentID &&
			p.PointOfSaleID == period.PointOfSaleID && p.Ambiente == period.Ambiente {
			return domain.ErrDuplicate
		}
	}
	r.st.periods[period.ID] = period
	return nil
}

func (r *memContRepo) GetPeriodByID(_ context.Context, id string) (*entity.ContingencyPeriod, error) {
	if p, ok := r.st.periods[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memContRepo) GetActivePeriod(_ context.Context, companyID, establishmentID, pointOfSaleID, ambiente string) (*entity.ContingencyPeriod, error) {
	for _, p := range r.st.periods {
		if p.Status == entity.PeriodStatusActive &&
			p.CompanyID == companyID && p.EstablishmentID == establishmentID &&
			p.PointOfSaleID == pointOfSaleID && p.Ambiente == ambiente {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memContRepo) ListPeriods(_ context.Context, filter repository.PeriodFilter) ([]*entity.ContingencyPeriod, error) {
	var out []*entity.ContingencyPeriod
	for _, p := range r.st.periods {
		if filter.CompanyID != "" && p.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *memContRepo) ClosePeriod(_ context.Context, id, fFin, hFin string) error {
	p, ok := r.st.periods[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != entity.PeriodStatusActive {
		return domain.ErrInvalidTransition
	}
	p.FFin, p.HFin = &fFin, &hFin
	p.Status = entity.PeriodStatusReporting
	return nil
}

func (r *memContRepo) CompletePeriod(_ context.Context, id string) error {
	p, ok := r.st.periods[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != entity.PeriodStatusReporting {
		return domain.ErrInvalidTransition
	}
	p.Status = entity.PeriodStatusCompleted
	return nil
}

func (r *memContRepo) SetNeedsAttention(_ context.Context, id string, v bool) error {
	p, ok := r.st.periods[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.NeedsAttention = v
	return nil
}

func (r *memContRepo) claim(status string, limit int) []*entity.ContingencyPeriod {
	var out []*entity.ContingencyPeriod
	for _, p := range r.st.periods {
		if p.Status == status && !p.Processing && !p.NeedsAttention && len(out) < limit {
			p.Processing = true
			out = append(out, p)
		}
	}
	return out
}

func (r *memContRepo) ClaimActivePeriods(_ context.Context, limit int) ([]*entity.ContingencyPeriod, error) {
	return r.claim(entity.PeriodStatusActive, limit), nil
}

func (r *memContRepo) ClaimReportingPeriods(_ context.Context, limit int) ([]*entity.ContingencyPeriod, error) {
	return r.claim(entity.PeriodStatusReporting, limit), nil
}

func (r *memContRepo) ReleasePeriod(_ context.Context, id string) error {
	if p, ok := r.st.periods[id]; ok {
		p.Processing = false
	}
	return nil
}

func (r *memContRepo) CreateEvent(_ context.Context, event *entity.ContingencyEvent) error {
	for _, e := range r.st.events {
		if e.ContingencyPeriodID == event.ContingencyPeriodID {
			return domain.ErrDuplicate
		}
	}
	r.st.events[event.ID] = event
	return nil
}

func (r *memContRepo) GetEventByID(_ context.Context, id string) (*entity.ContingencyEvent, error) {
	if e, ok := r.st.events[id]; ok {
		return e, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memContRepo) GetEventByPeriod(_ context.Context, periodID string) (*entity.ContingencyEvent, error) {
	for _, e := range r.st.events {
		if e.ContingencyPeriodID == periodID {
			return e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memContRepo) ListEvents(_ context.Context, companyID string, limit, offset int) ([]*entity.ContingencyEvent, error) {
	var out []*entity.ContingencyEvent
	for _, e := range r.st.events {
		if e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memContRepo) SetEventResult(_ context.Context, id string, estado, sello *string, response []byte) error {
	e, ok := r.st.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Estado = estado
	e.SelloRecibido = sello
	e.HaciendaResponse = response
	return nil
}

// ── LoteRepository ────────────────────────────────────────────────────────────

type memLoteRepo struct{ st *memStore }

var _ repository.LoteRepository = (*memLoteRepo)(nil)

func (r *memLoteRepo) Create(_ context.Context, lote *entity.Lote) error {
	r.st.lotes[lote.ID] = lote
	return nil
}

func (r *memLoteRepo) GetByID(_ context.Context, id string) (*entity.Lote, error) {
	if l, ok := r.st.lotes[id]; ok {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memLoteRepo) List(_ context.Context, filter repository.LoteFilter) ([]*entity.Lote, error) {
	var out []*entity.Lote
	for _, l := range r.st.lotes {
		if filter.CompanyID != "" && l.CompanyID != filter.CompanyID {
			continue
		}
		if filter.PeriodID != "" && l.ContingencyPeriodID != filter.PeriodID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *memLoteRepo) CountOpenByPeriod(_ context.Context, periodID string) (int, error) {
	n := 0
	for _, l := range r.st.lotes {
		if l.ContingencyPeriodID == periodID && l.Status != entity.LoteStatusAccepted {
			n++
		}
	}
	return n, nil
}

func (r *memLoteRepo) ClaimSubmittable(_ context.Context, now time.Time, limit int) ([]*entity.Lote, error) {
	var out []*entity.Lote
	for _, l := range r.st.lotes {
		ready := l.NextAttemptAt == nil || !l.NextAttemptAt.After(now)
		if l.Status == entity.LoteStatusPending && !l.Processing && ready && len(out) < limit {
			l.Processing = true
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLoteRepo) ClaimPollable(_ context.Context, limit int) ([]*entity.Lote, error) {
	var out []*entity.Lote
	for _, l := range r.st.lotes {
		if l.Status == entity.LoteStatusSubmitted && !l.Processing && len(out) < limit {
			l.Processing = true
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memLoteRepo) Release(_ context.Context, id string) error {
	if l, ok := r.st.lotes[id]; ok {
		l.Processing = false
	}
	return nil
}

func (r *memLoteRepo) MarkSubmitted(_ context.Context, id, codigoLote string, response []byte) error {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != entity.LoteStatusPending {
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	l.Status = entity.LoteStatusSubmitted
	l.CodigoLote = &codigoLote
	l.HaciendaResponse = response
	l.SubmittedAt = &now
	return nil
}

func (r *memLoteRepo) ScheduleRetry(_ context.Context, id string, attempts int, nextAttemptAt time.Time, response []byte) error {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.Attempts = attempts
	l.NextAttemptAt = &nextAttemptAt
	l.HaciendaResponse = response
	return nil
}

func (r *memLoteRepo) MarkFailed(_ context.Context, id string, response []byte) error {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.Status = entity.LoteStatusFailed
	l.HaciendaResponse = response
	return nil
}

func (r *memLoteRepo) MarkAccepted(_ context.Context, id string, response []byte) error {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != entity.LoteStatusPending && l.Status != entity.LoteStatusSubmitted {
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	l.Status = entity.LoteStatusAccepted
	l.HaciendaResponse = response
	l.CompletedAt = &now
	return nil
}

func (r *memLoteRepo) TouchPolled(_ context.Context, id string, polledAt time.Time) error {
	l, ok := r.st.lotes[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.LastPolledAt = &polledAt
	return nil
}

// ── CompanyRepository ─────────────────────────────────────────────────────────

type memCompanyRepo struct{ st *memStore }

var _ repository.CompanyRepository = (*memCompanyRepo)(nil)

func (r *memCompanyRepo) Create(_ context.Context, company *entity.Company) error {
	r.st.companies[company.ID] = company
	return nil
}

func (r *memCompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	if c, ok := r.st.companies[id]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memCompanyRepo) GetByNIT(_ context.Context, nit string) (*entity.Company, error) {
	for _, c := range r.st.companies {
		if c.NIT == nit {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memCompanyRepo) Update(_ context.Context, company *entity.Company) error {
	r.st.companies[company.ID] = company
	return nil
}

func (r *memCompanyRepo) GetEstablishment(_ context.Context, id string) (*entity.Establishment, error) {
	if e, ok := r.st.estabs[id]; ok {
		return e, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memCompanyRepo) GetPointOfSale(_ context.Context, id string) (*entity.PointOfSale, error) {
	if p, ok := r.st.pos[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

// ── TxRunner ──────────────────────────────────────────────────────────────────

type memTxRunner struct {
	docRepo    repository.DocumentRepository
	ledgerRepo repository.LedgerRepository
	contRepo   repository.ContingencyRepository
	loteRepo   repository.LoteRepository
}

var _ transmission.TxRunner = (*memTxRunner)(nil)

func (t *memTxRunner) Run(ctx context.Context, fn func(
	repository.DocumentRepository,
	repository.LedgerRepository,
	repository.ContingencyRepository,
	repository.LoteRepository,
) error) error {
	return fn(t.docRepo, t.ledgerRepo, t.contRepo, t.loteRepo)
}

// ── Firmador y Hacienda programables ──────────────────────────────────────────

type fakeSigner struct {
	jws   string
	err   error
	calls int
}

var _ firmador.Signer = (*fakeSigner)(nil)

func (s *fakeSigner) Sign(_ context.Context, _ firmador.Credentials, _ json.RawMessage) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.jws == "" {
		return "header.payload.firma", nil
	}
	return s.jws, nil
}

type fakeHacienda struct {
	pingFn        func() error
	sendFn        func(req hacienda.SendRequest) (*hacienda.ReceptionResult, error)
	sendEventFn   func(eventSigned string) (*hacienda.EventResult, error)
	sendLoteFn    func(req hacienda.LoteRequest) (*hacienda.LoteReceipt, error)
	consultLoteFn func(codigoLote string) (*hacienda.LoteStatus, error)
	consultDTEFn  func(codigoGeneracion string) (*hacienda.ConsultResult, error)
}

var _ hacienda.API = (*fakeHacienda)(nil)

func (h *fakeHacienda) Ping(context.Context, hacienda.Credentials) error {
	if h.pingFn != nil {
		return h.pingFn()
	}
	return nil
}

func (h *fakeHacienda) Send(_ context.Context, _ hacienda.Credentials, req hacienda.SendRequest) (*hacienda.ReceptionResult, error) {
	if h.sendFn != nil {
		return h.sendFn(req)
	}
	return &hacienda.ReceptionResult{Estado: "PROCESADO", SelloRecibido: "SELLO-TEST"}, nil
}

func (h *fakeHacienda) SendEvent(_ context.Context, _ hacienda.Credentials, eventSigned string) (*hacienda.EventResult, error) {
	if h.sendEventFn != nil {
		return h.sendEventFn(eventSigned)
	}
	return &hacienda.EventResult{Estado: "RECIBIDO", SelloRecibido: "SELLO-EVENTO"}, nil
}

func (h *fakeHacienda) SendLote(_ context.Context, _ hacienda.Credentials, req hacienda.LoteRequest) (*hacienda.LoteReceipt, error) {
	if h.sendLoteFn != nil {
		return h.sendLoteFn(req)
	}
	return &hacienda.LoteReceipt{Estado: "RECIBIDO", CodigoLote: "LOTE-" + req.IDEnvio}, nil
}

func (h *fakeHacienda) ConsultLote(_ context.Context, _ hacienda.Credentials, codigoLote string) (*hacienda.LoteStatus, error) {
	if h.consultLoteFn != nil {
		return h.consultLoteFn(codigoLote)
	}
	return &hacienda.LoteStatus{CodigoLote: codigoLote}, nil
}

func (h *fakeHacienda) ConsultDTE(_ context.Context, _ hacienda.Credentials, _, _, codigoGeneracion, _ string) (*hacienda.ConsultResult, error) {
	if h.consultDTEFn != nil {
		return h.consultDTEFn(codigoGeneracion)
	}
	return &hacienda.ConsultResult{CodigoGeneracion: codigoGeneracion, Estado: "PROCESADO"}, nil
}

// ── Armado del fixture ────────────────────────────────────────────────────────

const (
	fxCompanyID = "c0000000-0000-0000-0000-000000000001"
	fxEstabID   = "e0000000-0000-0000-0000-000000000001"
	fxPOSID     = "f0000000-0000-0000-0000-000000000001"
	fxAmbiente  = "00"
)

type fixture struct {
	st       *memStore
	docRepo  *memDocRepo
	ledger   *memLedgerRepo
	contRepo *memContRepo
	loteRepo *memLoteRepo
	signer   *fakeSigner
	hapi     *fakeHacienda

	submitter *transmission.Submitter
	periods   *transmission.PeriodService
	lotes     *transmission.LoteService
	tuning    transmission.Tuning
}

func newFixture() *fixture {
	st := newMemStore()
	st.companies[fxCompanyID] = &entity.Company{
		ID: fxCompanyID, NIT: "06141234567890", Nombre: "Empresa de Prueba S.A. de C.V.",
		Telefono: "2222-2222", Correo: "fiscal@empresa.test", Ambiente: fxAmbiente,
		FirmadorPassword: "firmador-pass", HaciendaUser: "hacienda-user", HaciendaPassword: "hacienda-pass",
	}
	st.estabs[fxEstabID] = &entity.Establishment{ID: fxEstabID, CompanyID: fxCompanyID, CodEstable: "M001", Tipo: "01"}
	st.pos[fxPOSID] = &entity.PointOfSale{ID: fxPOSID, EstablishmentID: fxEstabID, CodPuntoVenta: "P001"}

	f := &fixture{
		st:       st,
		docRepo:  &memDocRepo{st: st},
		ledger:   &memLedgerRepo{st: st},
		contRepo: &memContRepo{st: st},
		loteRepo: &memLoteRepo{st: st},
		signer:   &fakeSigner{},
		hapi:     &fakeHacienda{},
		tuning: transmission.Tuning{
			MaxSignatureRetries: 3,
			MaxDTEsPerLote:      2,
			MaxLoteAttempts:     3,
			LoteBackoffBase:     30 * time.Second,
			MaxDTEsPerEvent:     1000,
		},
	}
	tx := &memTxRunner{docRepo: f.docRepo, ledgerRepo: f.ledger, contRepo: f.contRepo, loteRepo: f.loteRepo}
	companyRepo := &memCompanyRepo{st: st}
	log := zerolog.Nop()

	f.periods = transmission.NewPeriodService(f.contRepo, f.docRepo, f.loteRepo, companyRepo, f.ledger, f.signer, f.hapi, f.tuning, log)
	f.lotes = transmission.NewLoteService(f.docRepo, f.loteRepo, f.contRepo, companyRepo, tx, f.hapi, f.tuning, log)
	f.submitter = transmission.NewSubmitter(f.docRepo, companyRepo, tx, f.periods, f.signer, f.hapi, f.tuning, log)
	return f
}

func (f *fixture) point() transmission.IssuingPoint {
	return transmission.IssuingPoint{
		CompanyID:       fxCompanyID,
		EstablishmentID: fxEstabID,
		PointOfSaleID:   fxPOSID,
		Ambiente:        fxAmbiente,
	}
}

// unavailableErr simula una caída de Hacienda.
func unavailableErr() error {
	return &hacienda.APIError{Kind: hacienda.KindNetwork, Message: "connection refused"}
}

// rejectionErr simula un RECHAZADO.
func rejectionErr(obs ...string) error {
	return &hacienda.APIError{Kind: hacienda.KindRejection, Message: "RECHAZADO", Observaciones: obs}
}
