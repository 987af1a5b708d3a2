package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-engine/internal/application/dto"
	"github.com/jhoicas/dte-engine/internal/application/transmission"
	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// ContingencyHandler maneja las peticiones HTTP de contingencia (protegido).
type ContingencyHandler struct {
	periods  *transmission.PeriodService
	contRepo repository.ContingencyRepository
	loteRepo repository.LoteRepository
	docRepo  repository.DocumentRepository
}

// NewContingencyHandler construye el handler.
func NewContingencyHandler(
	periods *transmission.PeriodService,
	contRepo repository.ContingencyRepository,
	loteRepo repository.LoteRepository,
	docRepo repository.DocumentRepository,
) *ContingencyHandler {
	return &ContingencyHandler{periods: periods, contRepo: contRepo, loteRepo: loteRepo, docRepo: docRepo}
}

// ListPeriods lista períodos del emisor con filtros.
// GET /api/contingency/periods?status=&needs_attention=&limit=&offset=
func (h *ContingencyHandler) ListPeriods(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()

	filter := repository.PeriodFilter{
		CompanyID: companyID,
		Status:    c.Query("status"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	}
	if na := c.Query("needs_attention"); na != "" {
		v := na == "true" || na == "1"
		filter.NeedsAttention = &v
	}

	periods, err := h.contRepo.ListPeriods(c.Context(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.PeriodResponse, 0, len(periods))
	for _, p := range periods {
		resp := dto.ToPeriodResponse(p)
		if count, err := h.docRepo.CountByPeriod(c.Context(), p.ID); err == nil {
			resp.DocumentCount = count
		}
		out = append(out, resp)
	}
	return c.JSON(out)
}

// GetPeriod obtiene un período del emisor.
// GET /api/contingency/periods/:id
func (h *ContingencyHandler) GetPeriod(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	period, err := h.contRepo.GetPeriodByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "período no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if period.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	resp := dto.ToPeriodResponse(period)
	if count, err := h.docRepo.CountByPeriod(c.Context(), period.ID); err == nil {
		resp.DocumentCount = count
	}
	return c.JSON(resp)
}

// ListPeriodDocuments lista los documentos adjuntos a un período.
// GET /api/contingency/periods/:id/documents
func (h *ContingencyHandler) ListPeriodDocuments(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	period, err := h.contRepo.GetPeriodByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "período no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if period.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}

	docs, err := h.docRepo.ListByPeriod(c.Context(), period.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, dto.ToDocumentResponse(d))
	}
	return c.JSON(out)
}

// OpenPeriod abre un período por decisión del operador (ej. corte programado).
// POST /api/contingency/periods
func (h *ContingencyHandler) OpenPeriod(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.OpenPeriodRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.EstablishmentID == "" || in.PointOfSaleID == "" || in.Ambiente == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "punto de emisión incompleto"})
	}

	period, err := h.periods.OpenManual(c.Context(), transmission.IssuingPoint{
		CompanyID:       companyID,
		EstablishmentID: in.EstablishmentID,
		PointOfSaleID:   in.PointOfSaleID,
		Ambiente:        in.Ambiente,
	}, in.TipoContingencia, in.MotivoContingencia)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "tipo de contingencia inválido o sin motivo"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToPeriodResponse(period))
}

// ClosePeriod cierra un período active por decisión del operador.
// POST /api/contingency/periods/:id/close
func (h *ContingencyHandler) ClosePeriod(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	period, err := h.contRepo.GetPeriodByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "período no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if period.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}

	if err := h.periods.Close(c.Context(), period.ID, entity.LedgerActorOperator); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: "el período no está active"})
		case errors.Is(err, domain.ErrConflict):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "EMPTY_PERIOD", Message: "el período no tiene documentos"})
		default:
			return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "CLOSE_FAILED", Message: err.Error()})
		}
	}

	closed, err := h.contRepo.GetPeriodByID(c.Context(), period.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.ToPeriodResponse(closed))
}

// ListEvents lista eventos de contingencia del emisor.
// GET /api/contingency/events?limit=&offset=
func (h *ContingencyHandler) ListEvents(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()

	events, err := h.contRepo.ListEvents(c.Context(), companyID, page.Limit, page.Offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, dto.ToEventResponse(e))
	}
	return c.JSON(out)
}

// ListLotes lista lotes del emisor con filtros.
// GET /api/contingency/lotes?period_id=&status=&limit=&offset=
func (h *ContingencyHandler) ListLotes(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()

	lotes, err := h.loteRepo.List(c.Context(), repository.LoteFilter{
		CompanyID: companyID,
		PeriodID:  c.Query("period_id"),
		Status:    c.Query("status"),
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.LoteResponse, 0, len(lotes))
	for _, l := range lotes {
		out = append(out, dto.ToLoteResponse(l))
	}
	return c.JSON(out)
}

// GetLote obtiene un lote del emisor.
// GET /api/contingency/lotes/:id
func (h *ContingencyHandler) GetLote(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	lote, err := h.loteRepo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "lote no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if lote.CompanyID != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	return c.JSON(dto.ToLoteResponse(lote))
}
