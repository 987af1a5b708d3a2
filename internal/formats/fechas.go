package formats

import (
	"fmt"
	"time"
)

// Formatos de fecha y hora que exigen los esquemas de Hacienda.
const (
	FechaLayout         = "2006-01-02" // fecEmi, fecInicio, fecFin
	HoraLayout          = "15:04:05"   // horInicio, horFin
	FechaConsultaLayout = "02/01/2006" // fechaEmision del servicio de consulta
	FhProcLayout        = "02/01/2006 15:04:05"
)

// locSV es la zona horaria del emisor. Si la base de zonas no está disponible
// en el contenedor se usa CST fijo (-6, El Salvador no tiene horario de verano).
var locSV = func() *time.Location {
	loc, err := time.LoadLocation("America/El_Salvador")
	if err != nil {
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}()

// NowSV devuelve la hora actual en la zona del emisor.
func NowSV() time.Time {
	return time.Now().In(locSV)
}

// InSV convierte un instante a la zona del emisor.
func InSV(t time.Time) time.Time {
	return t.In(locSV)
}

// FechaHora separa un instante en fecha y hora con los layouts de Hacienda.
func FechaHora(t time.Time) (fecha, hora string) {
	t = t.In(locSV)
	return t.Format(FechaLayout), t.Format(HoraLayout)
}

// ParseFhProcesamiento interpreta el fhProcesamiento de Hacienda (dd/MM/yyyy HH:mm:ss)
// en la zona del emisor.
func ParseFhProcesamiento(s string) (time.Time, error) {
	t, err := time.ParseInLocation(FhProcLayout, s, locSV)
	if err != nil {
		return time.Time{}, fmt.Errorf("fhProcesamiento inválido %q: %w", s, err)
	}
	return t, nil
}

// FechaConsulta formatea la fecha de emisión para el servicio de consulta (dd/MM/yyyy).
func FechaConsulta(t time.Time) string {
	return t.In(locSV).Format(FechaConsultaLayout)
}
