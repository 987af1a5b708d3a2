package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-engine/internal/application/dto"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// DocumentHandler maneja las peticiones HTTP de documentos (protegido).
type DocumentHandler struct {
	submitter  *transmission.Submitter
	docRepo    repository.DocumentRepository
	ledgerRepo repository.LedgerRepository
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(submitter *transmission.Submitter, docRepo repository.DocumentRepository, ledgerRepo repository.LedgerRepository) *DocumentHandler {
	return &DocumentHandler{submitter: submitter, docRepo: docRepo, ledgerRepo: ledgerRepo}
}

// Create recibe un DTE y dispara la transmisión síncrona. Un reenvío del mismo
// número de control devuelve 200 con el documento existente.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	doc, created, err := h.submitter.Receive(c.Context(), companyID, in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "datos del DTE inválidos"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if !created {
		return c.JSON(dto.ToDocumentResponse(doc))
	}

	// Intento síncrono; las fallas de infraestructura ya quedaron encoladas
	// en contingencia, así que la respuesta refleja el estado que alcanzó.
	if err := h.submitter.Transmit(c.Context(), doc, entity.LedgerActorSubmitter); err != nil {
		refreshed, gerr := h.docRepo.GetByID(c.Context(), doc.ID)
		if gerr == nil {
			doc = refreshed
		}
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToDocumentResponse(doc))
}

// List lista documentos del emisor con filtros.
// GET /api/documents?status=&tipo_dte=&from=&to=&limit=&offset=
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()

	filter := repository.DocumentFilter{
		CompanyID: companyID,
		Status:    c.Query("status"),
		TipoDTE:   c.Query("tipo_dte"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from inválido (yyyy-MM-dd)"})
		}
		filter.DateFrom = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to inválido (yyyy-MM-dd)"})
		}
		filter.DateTo = &t
	}

	docs, err := h.docRepo.List(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, dto.ToDocumentResponse(d))
	}
	return c.JSON(out)
}

// GetByID obtiene un documento del emisor.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.docRepo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "documento no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if doc.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	return c.JSON(dto.ToDocumentResponse(doc))
}

// GetLedger devuelve el historial de transmisión completo de un documento.
// GET /api/documents/:id/ledger
func (h *DocumentHandler) GetLedger(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.docRepo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "documento no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if doc.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	entries, err := h.ledgerRepo.ListByDocument(c.Context(), doc.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.ToLedgerResponse(entries))
}
