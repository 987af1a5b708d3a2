package transmission_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/infrastructure/hacienda"
)

// ──────────────────────────────────────────────────────────────────────────────
// OpenOrJoin: un período active por punto de emisión
// ──────────────────────────────────────────────────────────────────────────────

func TestOpenOrJoin_AbreYReutiliza(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.periods.OpenOrJoin(ctx, f.point(), entity.FailureHaciendaDown, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PeriodStatusActive, first.Status)
	assert.NotEmpty(t, first.FInicio)
	assert.NotEmpty(t, first.HInicio)
	assert.Nil(t, first.FFin, "el período recién abierto no tiene fin de ventana")

	second, err := f.periods.OpenOrJoin(ctx, f.point(), entity.FailureFirmador, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "el punto de emisión reutiliza su período active")
	assert.Len(t, f.st.periods, 1)
}

func TestOpenOrJoin_CarreraDeApertura_PerdedorSeUneAlGanador(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// El hook simula otro proceso que gana la carrera: inserta el período
	// justo antes de nuestro insert, que entonces pierde con ErrDuplicate.
	var winner *entity.ContingencyPeriod
	f.contRepo.createPeriodHook = func() {
		if winner != nil {
			return
		}
		f.contRepo.createPeriodHook = nil
		winner = &entity.ContingencyPeriod{
			ID:              "ganador",
			CompanyID:       fxCompanyID,
			EstablishmentID: fxEstabID,
			PointOfSaleID:   fxPOSID,
			Ambiente:        fxAmbiente,
			Status:          entity.PeriodStatusActive,
			FInicio:         "2026-08-31",
			HInicio:         "10:00:00",
		}
		f.st.periods[winner.ID] = winner
	}

	got, err := f.periods.OpenOrJoin(ctx, f.point(), entity.FailureHaciendaDown, nil)
	require.NoError(t, err)
	assert.Equal(t, "ganador", got.ID, "el perdedor de la carrera se une al período ganador")
	assert.Len(t, f.st.periods, 1)
}

func TestOpenOrJoin_MapeaFallaACatalogo(t *testing.T) {
	cases := map[string]int{
		entity.FailureHaciendaDown:   entity.TipoContingenciaMHDown,
		entity.FailureHaciendaAuth:   entity.TipoContingenciaMHDown,
		entity.FailureFirmador:       entity.TipoContingenciaEmisor,
		entity.FailureInternetOutage: entity.TipoContingenciaInternet,
		entity.FailurePowerOutage:    entity.TipoContingenciaEnergia,
		"algo_raro":                  entity.TipoContingenciaOtro,
	}
	for failure, tipo := range cases {
		f := newFixture()
		period, err := f.periods.OpenOrJoin(context.Background(), f.point(), failure, nil)
		require.NoError(t, err)
		assert.Equal(t, tipo, period.TipoContingencia, "falla %q", failure)
		if tipo == entity.TipoContingenciaOtro {
			require.NotNil(t, period.MotivoContingencia, "el tipo 5 siempre lleva motivo")
			assert.NotEmpty(t, *period.MotivoContingencia)
		}
	}
}

func TestOpenManual_ValidaCatalogo(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.periods.OpenManual(ctx, f.point(), 9, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "tipo fuera de CAT-005 debe rechazarse")

	_, err = f.periods.OpenManual(ctx, f.point(), entity.TipoContingenciaOtro, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "tipo 5 sin motivo debe rechazarse")

	motivo := "corte programado del proveedor"
	period, err := f.periods.OpenManual(ctx, f.point(), entity.TipoContingenciaOtro, &motivo)
	require.NoError(t, err)
	assert.Equal(t, entity.TipoContingenciaOtro, period.TipoContingencia)
	assert.Equal(t, motivo, *period.MotivoContingencia)
}

// ──────────────────────────────────────────────────────────────────────────────
// Close: firma pendientes, estampa fin, congela membresía
// ──────────────────────────────────────────────────────────────────────────────

// queueDocs encola n documentos en contingencia vía el submitter con Hacienda caída.
func queueDocs(t *testing.T, f *fixture, n int) []*entity.Document {
	t.Helper()
	ctx := context.Background()
	f.hapi.sendFn = func(hacienda.SendRequest) (*hacienda.ReceptionResult, error) {
		return nil, unavailableErr()
	}
	docs := make([]*entity.Document, 0, n)
	for i := 0; i < n; i++ {
		doc, _, err := f.submitter.Receive(ctx, fxCompanyID, buildRequest(int64(i+1)))
		require.NoError(t, err)
		require.NoError(t, f.submitter.Transmit(ctx, doc, entity.LedgerActorSubmitter))
		docs = append(docs, doc)
	}
	f.hapi.sendFn = nil
	return docs
}

func TestClose_EstampaFinYCongelaMembresia(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	docs := queueDocs(t, f, 2)
	periodID := *docs[0].ContingencyPeriodID

	require.NoError(t, f.periods.Close(ctx, periodID, entity.LedgerActorOperator))

	period := f.st.periods[periodID]
	assert.Equal(t, entity.PeriodStatusReporting, period.Status)
	require.True(t, period.IsClosed())
	assert.NotEmpty(t, *period.FFin)
	assert.NotEmpty(t, *period.HFin)
}

func TestClose_FirmaLosDocumentosSinFirma(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Un documento entró sin firma (falla de firmador agotada).
	f.signer.err = errors.New("firmador caído")
	doc, _, err := f.submitter.Receive(ctx, fxCompanyID, buildRequest(1))
	require.NoError(t, err)
	for i := 0; i < f.tuning.MaxSignatureRetries; i++ {
		require.NoError(t, f.submitter.Transmit(ctx, doc, entity.LedgerActorWorker))
	}
	require.Equal(t, entity.DocStatusQueuedContingency, doc.TransmissionStatus)
	require.False(t, doc.HasSignature())

	// El firmador vuelve; el cierre obtiene la firma faltante.
	f.signer.err = nil
	require.NoError(t, f.periods.Close(ctx, *doc.ContingencyPeriodID, entity.LedgerActorWorker))

	assert.True(t, doc.HasSignature(), "el cierre firma los documentos pendientes")
	require.NotNil(t, doc.CodigoGeneracion)
	assert.Equal(t, entity.DocStatusQueuedContingency, doc.TransmissionStatus,
		"la firma tardía no cambia el estado del documento")
}

func TestClose_FirmadorCaido_ElPeriodoSigueActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.signer.err = errors.New("firmador caído")
	doc, _, err := f.submitter.Receive(ctx, fxCompanyID, buildRequest(1))
	require.NoError(t, err)
	for i := 0; i < f.tuning.MaxSignatureRetries; i++ {
		require.NoError(t, f.submitter.Transmit(ctx, doc, entity.LedgerActorWorker))
	}

	// El firmador sigue caído: el cierre falla y nada cambia.
	err = f.periods.Close(ctx, *doc.ContingencyPeriodID, entity.LedgerActorWorker)
	require.Error(t, err)
	assert.Equal(t, entity.PeriodStatusActive, f.st.periods[*doc.ContingencyPeriodID].Status)
}

func TestClose_PeriodoVacio_EsConflicto(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period, err := f.periods.OpenOrJoin(ctx, f.point(), entity.FailureHaciendaDown, nil)
	require.NoError(t, err)

	err = f.periods.Close(ctx, period.ID, entity.LedgerActorOperator)
	assert.ErrorIs(t, err, domain.ErrConflict, "cerrar un período sin documentos no tiene sentido")
}

func TestClose_NoActive_EsTransicionInvalida(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	docs := queueDocs(t, f, 1)
	periodID := *docs[0].ContingencyPeriodID

	require.NoError(t, f.periods.Close(ctx, periodID, entity.LedgerActorOperator))
	err := f.periods.Close(ctx, periodID, entity.LedgerActorOperator)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "un período reporting no se cierra dos veces")
}

// ──────────────────────────────────────────────────────────────────────────────
// EmitEvent: idempotencia y veredictos
// ──────────────────────────────────────────────────────────────────────────────

func closeQueued(t *testing.T, f *fixture, n int) *entity.ContingencyPeriod {
	t.Helper()
	docs := queueDocs(t, f, n)
	periodID := *docs[0].ContingencyPeriodID
	require.NoError(t, f.periods.Close(context.Background(), periodID, entity.LedgerActorWorker))
	return f.st.periods[periodID]
}

func TestEmitEvent_CreaFirmaYTransmite(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period := closeQueued(t, f, 2)

	event, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)
	assert.True(t, event.IsAccepted())
	require.NotNil(t, event.SelloRecibido)
	assert.Equal(t, "SELLO-EVENTO", *event.SelloRecibido)
	assert.NotEmpty(t, event.EventSigned, "el evento viaja firmado")
	assert.Len(t, f.st.events, 1)
}

func TestEmitEvent_EsIdempotente(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period := closeQueued(t, f, 1)

	first, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)

	envios := 0
	f.hapi.sendEventFn = func(string) (*hacienda.EventResult, error) {
		envios++
		return &hacienda.EventResult{Estado: "RECIBIDO"}, nil
	}
	second, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, envios, "un evento ya aceptado no se retransmite")
}

func TestEmitEvent_RechazoMarcaNeedsAttention(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period := closeQueued(t, f, 1)

	f.hapi.sendEventFn = func(string) (*hacienda.EventResult, error) {
		return &hacienda.EventResult{Estado: "RECHAZADO", Observaciones: []string{"detalle inconsistente"}},
			&hacienda.APIError{Kind: hacienda.KindRejection, Message: "RECHAZADO"}
	}

	_, err := f.periods.EmitEvent(ctx, period)
	require.Error(t, err)
	assert.True(t, period.NeedsAttention, "un evento rechazado pide intervención del operador")

	event := f.st.events[firstEventID(f)]
	require.NotNil(t, event.Estado)
	assert.Equal(t, "RECHAZADO", *event.Estado)
}

func TestEmitEvent_FallaTransitoria_ReintentaElMismoEvento(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period := closeQueued(t, f, 1)

	f.hapi.sendEventFn = func(string) (*hacienda.EventResult, error) {
		return nil, unavailableErr()
	}
	_, err := f.periods.EmitEvent(ctx, period)
	require.Error(t, err)
	require.Len(t, f.st.events, 1, "el evento queda persistido aunque el envío falle")
	eventID := firstEventID(f)

	f.hapi.sendEventFn = nil
	event, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)
	assert.Equal(t, eventID, event.ID, "el reintento transmite el mismo evento, no crea otro")
	assert.True(t, event.IsAccepted())
}

func firstEventID(f *fixture) string {
	for id := range f.st.events {
		return id
	}
	return ""
}

// ──────────────────────────────────────────────────────────────────────────────
// CheckCompletion
// ──────────────────────────────────────────────────────────────────────────────

func TestCheckCompletion_CompletaSoloSinPendientes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	period := closeQueued(t, f, 2)

	// Con documentos sin lote el período sigue reporting.
	require.NoError(t, f.periods.CheckCompletion(ctx, period))
	assert.Equal(t, entity.PeriodStatusReporting, period.Status)

	event, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)
	_, err = f.lotes.BuildLotes(ctx, period, event)
	require.NoError(t, err)

	// Con lotes abiertos tampoco completa.
	require.NoError(t, f.periods.CheckCompletion(ctx, period))
	assert.Equal(t, entity.PeriodStatusReporting, period.Status)

	// Todos los lotes terminales: completa.
	for _, l := range f.st.lotes {
		l.Status = entity.LoteStatusAccepted
	}
	require.NoError(t, f.periods.CheckCompletion(ctx, period))
	assert.Equal(t, entity.PeriodStatusCompleted, period.Status)

	// Idempotente: otra corrida no falla ni cambia nada.
	require.NoError(t, f.periods.CheckCompletion(ctx, period))
	assert.Equal(t, entity.PeriodStatusCompleted, period.Status)
}

func TestCheckCompletion_LoteFailedBloqueaElPeriodo(t *testing.T) {
	f := newFixture() // MaxDTEsPerLote = 2
	ctx := context.Background()
	period := closeQueued(t, f, 3)

	event, err := f.periods.EmitEvent(ctx, period)
	require.NoError(t, err)
	built, err := f.lotes.BuildLotes(ctx, period, event)
	require.NoError(t, err)
	require.Equal(t, 2, built)

	// Un lote agotó sus reintentos; el otro cerró bien.
	failed := true
	for _, l := range f.st.lotes {
		if failed {
			l.Status = entity.LoteStatusFailed
			failed = false
			continue
		}
		l.Status = entity.LoteStatusAccepted
	}

	require.NoError(t, f.periods.CheckCompletion(ctx, period))
	assert.Equal(t, entity.PeriodStatusReporting, period.Status,
		"un lote failed deja el período abierto hasta intervención manual")
}
