package formats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jhoicas/dte-engine/internal/application/dto"
)

// WriteReconciliationCSV escribe la corrida de conciliación como CSV: un
// bloque de resumen, una línea en blanco y luego el detalle por documento.
func WriteReconciliationCSV(w io.Writer, resp *dto.ReconciliationResponse) error {
	cw := csv.NewWriter(w)

	summary := [][]string{
		{"resumen", ""},
		{"total", strconv.Itoa(resp.Summary.Total)},
		{"coincidentes", strconv.Itoa(resp.Summary.Matched)},
		{"discrepantes", strconv.Itoa(resp.Summary.Mismatched)},
		{"discrepancia_fecha", strconv.Itoa(resp.Summary.DateMismatches)},
		{"no_encontrados", strconv.Itoa(resp.Summary.NotFound)},
		{"errores_consulta", strconv.Itoa(resp.Summary.QueryErrors)},
		{},
	}
	for _, rec := range summary {
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("escribir resumen: %w", err)
		}
	}

	header := []string{
		"codigo_generacion", "numero_control", "tipo_dte", "fecha_emision",
		"estado_local", "estado_hacienda", "sello_hacienda", "fh_procesamiento",
		"coincide", "coincide_fecha_emision", "resultado", "detalle",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("escribir cabecera: %w", err)
	}
	for _, row := range resp.Rows {
		rec := []string{
			row.CodigoGeneracion, row.NumeroControl, row.TipoDTE, row.FechaEmision,
			row.LocalStatus, row.HaciendaEstado, row.HaciendaSello, row.FhProcesamiento,
			strconv.FormatBool(row.Matches), strconv.FormatBool(row.FechaEmisionMatches),
			row.Result, row.Detail,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("escribir fila: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
