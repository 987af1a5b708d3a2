package dto

// Clasificación de cada documento conciliado contra Hacienda.
const (
	ReconMatched      = "matched"
	ReconMismatched   = "mismatched"
	ReconDateMismatch = "date_mismatch"
	ReconNotFound     = "not_found"
	ReconQueryError   = "query_error"
)

// ReconciliationRow resultado por documento de la conciliación. Matches y
// FechaEmisionMatches son veredictos independientes: un documento puede
// coincidir en estado y sello pero no en fecha de emisión, y viceversa.
type ReconciliationRow struct {
	DocumentID           string   `json:"document_id"`
	CodigoGeneracion     string   `json:"codigo_generacion"`
	NumeroControl        string   `json:"numero_control"`
	TipoDTE              string   `json:"tipo_dte"`
	FechaEmision         string   `json:"fecha_emision"`
	LocalStatus          string   `json:"local_status"`
	HaciendaEstado       string   `json:"hacienda_estado,omitempty"`
	HaciendaSello        string   `json:"hacienda_sello,omitempty"`
	HaciendaFechaEmision string   `json:"hacienda_fecha_emision,omitempty"`
	FhProcesamiento      string   `json:"fh_procesamiento,omitempty"`
	Matches              bool     `json:"matches"`
	FechaEmisionMatches  bool     `json:"fecha_emision_matches"`
	Result               string   `json:"result"`
	Discrepancies        []string `json:"discrepancies,omitempty"`
	Detail               string   `json:"detail,omitempty"`
}

// ReconciliationSummary totales de la corrida de conciliación.
type ReconciliationSummary struct {
	Total          int `json:"total"`
	Matched        int `json:"matched"`
	Mismatched     int `json:"mismatched"`
	DateMismatches int `json:"date_mismatches"`
	NotFound       int `json:"not_found"`
	QueryErrors    int `json:"query_errors"`
}

// ReconciliationResponse respuesta de GET /api/reconciliation.
type ReconciliationResponse struct {
	Summary ReconciliationSummary `json:"summary"`
	Rows    []ReconciliationRow   `json:"rows"`
}
