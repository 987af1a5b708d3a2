package repository

import (
	"context"

	"github.com/jhoicas/dte-engine/internal/domain/entity"
)

// CompanyRepository define el puerto de persistencia para emisores y sus
// puntos de emisión.
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByNIT(ctx context.Context, nit string) (*entity.Company, error)
	Update(ctx context.Context, company *entity.Company) error

	GetEstablishment(ctx context.Context, id string) (*entity.Establishment, error)
	GetPointOfSale(ctx context.Context, id string) (*entity.PointOfSale, error)
}
