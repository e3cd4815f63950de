package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxUnresolvedLimit caps a single FindUnresolved page
const MaxUnresolvedLimit = 1000

// GormInvoiceRepository implements payment.InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db, now: time.Now}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormInvoiceRepository) WithTx(tx *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: tx, now: r.now}
}

// Save inserts the invoice; an existing id is left as is
func (r *GormInvoiceRepository) Save(ctx context.Context, inv *payment.Invoice) error {
	model := models.InvoiceModelFromDomain(inv)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(model).Error
}

// FindByID finds an invoice by its gateway id
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id string) (*payment.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateStatus records the gateway status of an invoice
func (r *GormInvoiceRepository) UpdateStatus(ctx context.Context, id string, status payment.Status) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", "Unknown invoice status")
	}
	result := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Resolve sets the resolution of an unresolved invoice. Resolved or unknown
// invoices are not touched.
func (r *GormInvoiceRepository) Resolve(ctx context.Context, id string, resolution payment.Resolution, at time.Time) error {
	if resolution == payment.ResolutionNone || !resolution.IsValid() {
		return shared.NewDomainError("INVALID_RESOLUTION", "Unknown invoice resolution")
	}
	return r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Where("id = ? AND resolution = ?", id, string(payment.ResolutionNone)).
		Updates(map[string]any{
			"resolution":  string(resolution),
			"resolved_at": at,
			"updated_at":  at,
		}).Error
}

// FindUnresolved returns unresolved invoices, oldest first
func (r *GormInvoiceRepository) FindUnresolved(ctx context.Context, limit int) ([]*payment.Invoice, error) {
	if limit <= 0 || limit > MaxUnresolvedLimit {
		limit = MaxUnresolvedLimit
	}
	var rows []models.InvoiceModel
	err := r.db.WithContext(ctx).
		Where("resolution = ?", string(payment.ResolutionNone)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	invoices := make([]*payment.Invoice, len(rows))
	for i := range rows {
		invoices[i] = rows[i].ToDomain()
	}
	return invoices, nil
}

// Ensure GormInvoiceRepository implements payment.InvoiceRepository
var _ payment.InvoiceRepository = (*GormInvoiceRepository)(nil)
