package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Formato del número de control según el esquema de Hacienda:
// DTE-<tipo 2 dígitos>-<cod estable 4><cod punto venta 4>-<secuencia 15 dígitos>.
const numeroControlLen = 31

var numeroControlRe = regexp.MustCompile(`^DTE-\d{2}-[A-Z0-9]{8}-\d{15}$`)

// NumeroControlParts son los componentes extraídos de un número de control.
type NumeroControlParts struct {
	TipoDTE           string
	EstablishmentCode string // cod estable + cod punto venta, 8 caracteres
	Sequence          int64
}

// ValidateNumeroControl verifica formato y longitud exacta (31 caracteres).
func ValidateNumeroControl(nc string) error {
	if len(nc) != numeroControlLen {
		return fmt.Errorf("numero de control debe tener %d caracteres, tiene %d", numeroControlLen, len(nc))
	}
	if !numeroControlRe.MatchString(nc) {
		return fmt.Errorf("numero de control con formato inválido: %s", nc)
	}
	return nil
}

// ParseNumeroControl descompone un número de control válido en sus partes.
func ParseNumeroControl(nc string) (NumeroControlParts, error) {
	if err := ValidateNumeroControl(nc); err != nil {
		return NumeroControlParts{}, err
	}
	segs := strings.Split(nc, "-")
	seq, err := strconv.ParseInt(segs[3], 10, 64)
	if err != nil {
		return NumeroControlParts{}, fmt.Errorf("secuencia inválida: %w", err)
	}
	return NumeroControlParts{
		TipoDTE:           segs[1],
		EstablishmentCode: segs[2],
		Sequence:          seq,
	}, nil
}

// BuildNumeroControl arma un número de control a partir de sus componentes.
func BuildNumeroControl(tipoDTE, codEstable, codPuntoVenta string, sequence int64) (string, error) {
	if len(tipoDTE) != 2 {
		return "", fmt.Errorf("tipo de DTE debe tener 2 dígitos: %q", tipoDTE)
	}
	if len(codEstable) != 4 {
		return "", fmt.Errorf("código de establecimiento debe tener 4 caracteres: %q", codEstable)
	}
	if len(codPuntoVenta) != 4 {
		return "", fmt.Errorf("código de punto de venta debe tener 4 caracteres: %q", codPuntoVenta)
	}
	if sequence < 1 || sequence > 999999999999999 {
		return "", fmt.Errorf("secuencia fuera de rango: %d", sequence)
	}
	nc := fmt.Sprintf("DTE-%s-%s%s-%015d", tipoDTE, codEstable, codPuntoVenta, sequence)
	if err := ValidateNumeroControl(nc); err != nil {
		return "", err
	}
	return nc, nil
}
