package entity

import "time"

// Company es el emisor de DTEs. Las credenciales del firmador y de Hacienda
// nunca se serializan hacia afuera.
type Company struct {
	ID              string  `json:"id"`
	NIT             string  `json:"nit"`
	Nombre          string  `json:"nombre"`
	NombreComercial *string `json:"nombre_comercial,omitempty"`
	Telefono        string  `json:"telefono"`
	Correo          string  `json:"correo"`
	Ambiente        string  `json:"ambiente"`

	FirmadorUsername string `json:"-"`
	FirmadorPassword string `json:"-"`
	HaciendaUser     string `json:"-"`
	HaciendaPassword string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Establishment es una sucursal o casa matriz del emisor.
type Establishment struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	CodEstable string    `json:"cod_estable"`
	Tipo       string    `json:"tipo"`
	CreatedAt  time.Time `json:"created_at"`
}

// PointOfSale es un punto de emisión dentro de un establecimiento.
type PointOfSale struct {
	ID              string    `json:"id"`
	EstablishmentID string    `json:"establishment_id"`
	CodPuntoVenta   string    `json:"cod_punto_venta"`
	CreatedAt       time.Time `json:"created_at"`
}
