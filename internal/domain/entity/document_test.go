package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// ──────────────────────────────────────────────────────────────────────────────
// Máquina de estados de transmisión
//
// Estos tests fijan el contrato de la máquina de estados: cualquier cambio en
// las transiciones permitidas rompe aquí primero, antes de llegar a la base.
// ──────────────────────────────────────────────────────────────────────────────

func TestCanTransition_TransicionesValidas(t *testing.T) {
	valid := [][2]string{
		{entity.DocStatusPending, entity.DocStatusSigned},
		{entity.DocStatusPending, entity.DocStatusFailedSigning},
		{entity.DocStatusSigned, entity.DocStatusSubmitted},
		{entity.DocStatusSigned, entity.DocStatusQueuedContingency},
		{entity.DocStatusSigned, entity.DocStatusAccepted},
		{entity.DocStatusSigned, entity.DocStatusRejected},
		{entity.DocStatusFailedSigning, entity.DocStatusQueuedContingency},
		{entity.DocStatusQueuedContingency, entity.DocStatusSubmitted},
		{entity.DocStatusSubmitted, entity.DocStatusAccepted},
		{entity.DocStatusSubmitted, entity.DocStatusRejected},
	}
	for _, tr := range valid {
		assert.True(t, entity.CanTransition(tr[0], tr[1]),
			"la transición %s→%s debe ser válida", tr[0], tr[1])
	}
}

func TestCanTransition_TransicionesInvalidas(t *testing.T) {
	invalid := [][2]string{
		{entity.DocStatusPending, entity.DocStatusSubmitted},         // no se transmite sin firmar
		{entity.DocStatusPending, entity.DocStatusAccepted},          // no hay veredicto sin transmisión
		{entity.DocStatusFailedSigning, entity.DocStatusSigned},      // la firma en contingencia no cambia el estado
		{entity.DocStatusQueuedContingency, entity.DocStatusSigned},  // no se retrocede
		{entity.DocStatusQueuedContingency, entity.DocStatusPending}, // no se retrocede
		{entity.DocStatusSubmitted, entity.DocStatusPending},         // no se retrocede
		{entity.DocStatusAccepted, entity.DocStatusRejected},         // terminal es terminal
		{entity.DocStatusRejected, entity.DocStatusPending},          // un rechazo jamás se reintenta
		{entity.DocStatusRejected, entity.DocStatusSubmitted},        // un rechazo jamás se reintenta
	}
	for _, tr := range invalid {
		assert.False(t, entity.CanTransition(tr[0], tr[1]),
			"la transición %s→%s debe ser inválida", tr[0], tr[1])
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, entity.IsTerminalStatus(entity.DocStatusAccepted))
	assert.True(t, entity.IsTerminalStatus(entity.DocStatusRejected))

	assert.False(t, entity.IsTerminalStatus(entity.DocStatusPending))
	assert.False(t, entity.IsTerminalStatus(entity.DocStatusSigned))
	assert.False(t, entity.IsTerminalStatus(entity.DocStatusFailedSigning))
	assert.False(t, entity.IsTerminalStatus(entity.DocStatusQueuedContingency))
	assert.False(t, entity.IsTerminalStatus(entity.DocStatusSubmitted))
}

// ── Helpers del documento ─────────────────────────────────────────────────────

func TestDocument_HasSignature(t *testing.T) {
	var doc entity.Document
	assert.False(t, doc.HasSignature(), "sin payload firmado no hay firma")

	empty := ""
	doc.PayloadSigned = &empty
	assert.False(t, doc.HasSignature(), "un firmado vacío no cuenta como firma")

	jws := "eyJhbGciOiJSUzUxMiJ9.payload.firma"
	doc.PayloadSigned = &jws
	assert.True(t, doc.HasSignature())
}

func TestDocument_InContingency(t *testing.T) {
	var doc entity.Document
	assert.False(t, doc.InContingency())

	periodID := "00000000-0000-0000-0000-000000000009"
	doc.ContingencyPeriodID = &periodID
	assert.True(t, doc.InContingency())
}

func TestDocument_IsTerminal(t *testing.T) {
	doc := entity.Document{TransmissionStatus: entity.DocStatusSubmitted}
	assert.False(t, doc.IsTerminal())

	doc.TransmissionStatus = entity.DocStatusRejected
	assert.True(t, doc.IsTerminal())
}
