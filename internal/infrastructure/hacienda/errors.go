package hacienda

import (
	"errors"
	"fmt"
)

// Clases de falla al hablar con Hacienda. La clase decide la política: las
// fallas de red y de servidor abren contingencia, los rechazos son veredicto
// terminal y not_found alimenta la conciliación.
const (
	KindNetwork    = "network"    // no hubo respuesta HTTP utilizable
	KindValidation = "validation" // 4xx distinto de rechazo; error del llamador
	KindRejection  = "rejection"  // Hacienda respondió RECHAZADO
	KindServer     = "server"     // 5xx o 429; transitorio del lado de Hacienda
	KindNotFound   = "not_found"  // el DTE consultado no existe en Hacienda
)

// APIError es el error tipado de todas las operaciones contra Hacienda.
type APIError struct {
	Kind       string
	StatusCode int
	Message    string
	Body       []byte
	// Observaciones acompaña a los rechazos.
	Observaciones []string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("hacienda %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("hacienda %s: %s", e.Kind, e.Message)
}

// IsUnavailable indica si la falla es de disponibilidad (red o servidor) y
// por lo tanto candidata a contingencia o reintento.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindNetwork || apiErr.Kind == KindServer
	}
	return false
}

// IsRejection indica si Hacienda rechazó el documento. Un rechazo es un
// veredicto, no una falla: nunca se reintenta.
func IsRejection(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindRejection
	}
	return false
}

// IsNotFound indica si el DTE consultado no existe en Hacienda.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindNotFound
	}
	return false
}
