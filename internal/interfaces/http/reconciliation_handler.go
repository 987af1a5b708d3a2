package http

import (
	"bytes"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-engine/internal/application/dto"
	"github.com/jhoicas/dte-engine/internal/application/reconciliation"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
	"github.com/jhoicas/dte-engine/internal/formats"
)

// ReconciliationHandler maneja las peticiones HTTP de conciliación (protegido).
type ReconciliationHandler struct {
	uc *reconciliation.UseCase
}

// NewReconciliationHandler construye el handler.
func NewReconciliationHandler(uc *reconciliation.UseCase) *ReconciliationHandler {
	return &ReconciliationHandler{uc: uc}
}

// Reconcile corre la conciliación contra Hacienda sobre el rango pedido.
// Selección por start_date+end_date, date (un día), month (yyyy-MM) o
// codigo_generacion; include_matches=false deja solo las discrepancias.
// Con format=csv (o Accept: text/csv) responde el archivo; por defecto JSON.
// GET /api/reconciliation?start_date=&end_date=&date=&month=&codigo_generacion=&include_matches=&status=&tipo_dte=&format=
func (h *ReconciliationHandler) Reconcile(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}

	filter := repository.DocumentFilter{
		Status:           c.Query("status"),
		TipoDTE:          c.Query("tipo_dte"),
		CodigoGeneracion: strings.ToUpper(c.Query("codigo_generacion")),
	}
	if from := c.Query("start_date"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "start_date inválido (yyyy-MM-dd)"})
		}
		filter.DateFrom = &t
	}
	if to := c.Query("end_date"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "end_date inválido (yyyy-MM-dd)"})
		}
		filter.DateTo = &t
	}
	if day := c.Query("date"); day != "" {
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "date inválido (yyyy-MM-dd)"})
		}
		filter.DateFrom, filter.DateTo = &t, &t
	}
	if month := c.Query("month"); month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "month inválido (yyyy-MM)"})
		}
		last := t.AddDate(0, 1, -1)
		filter.DateFrom, filter.DateTo = &t, &last
	}

	result, err := h.uc.Reconcile(c.Context(), companyID, filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}

	if c.Query("include_matches") == "false" {
		rows := result.Rows[:0]
		for _, row := range result.Rows {
			if row.Result != dto.ReconMatched {
				rows = append(rows, row)
			}
		}
		result.Rows = rows
	}

	if c.Query("format") == "csv" || strings.Contains(c.Get(fiber.HeaderAccept), "text/csv") {
		var buf bytes.Buffer
		if err := formats.WriteReconciliationCSV(&buf, result); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		}
		c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="conciliacion.csv"`)
		return c.Send(buf.Bytes())
	}
	return c.JSON(result)
}
