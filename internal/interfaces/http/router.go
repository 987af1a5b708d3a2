package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-engine/internal/application/reconciliation"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Submitter        *transmission.Submitter
	Periods          *transmission.PeriodService
	ReconciliationUC *reconciliation.UseCase
	DocRepo          repository.DocumentRepository
	LedgerRepo       repository.LedgerRepository
	ContRepo         repository.ContingencyRepository
	LoteRepo         repository.LoteRepository
	JWTSecret        string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Documentos (protegido)
	documents := protected.Group("/documents")
	documentHandler := NewDocumentHandler(deps.Submitter, deps.DocRepo, deps.LedgerRepo)
	documents.Post("/", documentHandler.Create)
	documents.Get("/", documentHandler.List)
	documents.Get("/:id", documentHandler.GetByID)
	documents.Get("/:id/ledger", documentHandler.GetLedger)

	// Contingencia (protegido)
	contingency := protected.Group("/contingency")
	contingencyHandler := NewContingencyHandler(deps.Periods, deps.ContRepo, deps.LoteRepo, deps.DocRepo)
	contingency.Get("/periods", contingencyHandler.ListPeriods)
	// Abrir y cerrar períodos a mano es tarea del operador.
	contingency.Post("/periods", RequireRole(RoleOperador), contingencyHandler.OpenPeriod)
	contingency.Get("/periods/:id", contingencyHandler.GetPeriod)
	contingency.Get("/periods/:id/documents", contingencyHandler.ListPeriodDocuments)
	contingency.Post("/periods/:id/close", RequireRole(RoleOperador), contingencyHandler.ClosePeriod)
	contingency.Get("/events", contingencyHandler.ListEvents)
	contingency.Get("/lotes", contingencyHandler.ListLotes)
	contingency.Get("/lotes/:id", contingencyHandler.GetLote)

	// Conciliación (protegido)
	reconciliationHandler := NewReconciliationHandler(deps.ReconciliationUC)
	protected.Get("/reconciliation", reconciliationHandler.Reconcile)
}
