package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-engine/internal/domain"
	"github.com/jhoicas/dte-engine/internal/domain/entity"
	"github.com/jhoicas/dte-engine/internal/domain/repository"
)

// Asegura que CompanyRepo implementa repository.CompanyRepository.
var _ repository.CompanyRepository = (*CompanyRepo)(nil)

const companyColumns = `
	id, nit, nombre, nombre_comercial, telefono, correo, ambiente,
	firmador_username, firmador_password, hacienda_user, hacienda_password,
	created_at, updated_at`

// CompanyRepo implementación de CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador de persistencia para emisores.
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

func scanCompany(row interface{ Scan(dest ...any) error }) (*entity.Company, error) {
	var c entity.Company
	err := row.Scan(
		&c.ID, &c.NIT, &c.Nombre, &c.NombreComercial, &c.Telefono, &c.Correo, &c.Ambiente,
		&c.FirmadorUsername, &c.FirmadorPassword, &c.HaciendaUser, &c.HaciendaPassword,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create persiste un nuevo emisor.
func (r *CompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	query := `
		INSERT INTO companies (
			id, nit, nombre, nombre_comercial, telefono, correo, ambiente,
			firmador_username, firmador_password, hacienda_user, hacienda_password,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		company.ID, company.NIT, company.Nombre, company.NombreComercial,
		company.Telefono, company.Correo, company.Ambiente,
		company.FirmadorUsername, company.FirmadorPassword,
		company.HaciendaUser, company.HaciendaPassword,
		company.CreatedAt, company.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtiene un emisor por ID.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	c, err := scanCompany(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

// GetByNIT obtiene un emisor por NIT.
func (r *CompanyRepo) GetByNIT(ctx context.Context, nit string) (*entity.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE nit = $1`
	c, err := scanCompany(r.q.QueryRow(ctx, query, nit))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get company by NIT: %w", err)
	}
	return c, nil
}

// Update actualiza un emisor existente.
func (r *CompanyRepo) Update(ctx context.Context, company *entity.Company) error {
	query := `
		UPDATE companies
		SET nit = $2, nombre = $3, nombre_comercial = $4, telefono = $5, correo = $6,
		    ambiente = $7, firmador_username = $8, firmador_password = $9,
		    hacienda_user = $10, hacienda_password = $11, updated_at = now()
		WHERE id = $1`
	cmd, err := r.q.Exec(ctx, query,
		company.ID, company.NIT, company.Nombre, company.NombreComercial,
		company.Telefono, company.Correo, company.Ambiente,
		company.FirmadorUsername, company.FirmadorPassword,
		company.HaciendaUser, company.HaciendaPassword,
	)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetEstablishment obtiene un establecimiento por ID.
func (r *CompanyRepo) GetEstablishment(ctx context.Context, id string) (*entity.Establishment, error) {
	query := `SELECT id, company_id, cod_estable, tipo, created_at FROM establishments WHERE id = $1`
	var e entity.Establishment
	err := r.q.QueryRow(ctx, query, id).Scan(&e.ID, &e.CompanyID, &e.CodEstable, &e.Tipo, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get establishment: %w", err)
	}
	return &e, nil
}

// GetPointOfSale obtiene un punto de emisión por ID.
func (r *CompanyRepo) GetPointOfSale(ctx context.Context, id string) (*entity.PointOfSale, error) {
	query := `SELECT id, establishment_id, cod_punto_venta, created_at FROM points_of_sale WHERE id = $1`
	var p entity.PointOfSale
	err := r.q.QueryRow(ctx, query, id).Scan(&p.ID, &p.EstablishmentID, &p.CodPuntoVenta, &p.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get point of sale: %w", err)
	}
	return &p, nil
}
