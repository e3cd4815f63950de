// Package models contains the gorm models for persisted checkout data.
package models

import (
	"time"

	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for payment.Invoice
type InvoiceModel struct {
	ID              string          `gorm:"type:varchar(64);primaryKey"`
	IdempotencyKey  string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID          int64           `gorm:"not null;index"`
	ChatID          int64           `gorm:"not null"`
	AssetKey        string          `gorm:"type:varchar(64);not null;index"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency        string          `gorm:"type:varchar(3);not null"`
	Status          string          `gorm:"type:varchar(20);not null"`
	Resolution      string          `gorm:"type:varchar(20);not null;index"`
	ConfirmationURL string          `gorm:"type:text"`
	CreatedAt       time.Time       `gorm:"not null;index"`
	UpdatedAt       time.Time       `gorm:"not null"`
	ResolvedAt      *time.Time
}

// TableName returns the table name for the model
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the model to a domain invoice
func (m *InvoiceModel) ToDomain() *payment.Invoice {
	return &payment.Invoice{
		ID:              m.ID,
		IdempotencyKey:  m.IdempotencyKey,
		UserID:          m.UserID,
		ChatID:          m.ChatID,
		AssetKey:        m.AssetKey,
		Amount:          m.Amount,
		Currency:        m.Currency,
		Status:          payment.Status(m.Status),
		Resolution:      payment.Resolution(m.Resolution),
		ConfirmationURL: m.ConfirmationURL,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		ResolvedAt:      m.ResolvedAt,
	}
}

// InvoiceModelFromDomain creates a model from a domain invoice
func InvoiceModelFromDomain(inv *payment.Invoice) *InvoiceModel {
	return &InvoiceModel{
		ID:              inv.ID,
		IdempotencyKey:  inv.IdempotencyKey,
		UserID:          inv.UserID,
		ChatID:          inv.ChatID,
		AssetKey:        inv.AssetKey,
		Amount:          inv.Amount,
		Currency:        inv.Currency,
		Status:          string(inv.Status),
		Resolution:      string(inv.Resolution),
		ConfirmationURL: inv.ConfirmationURL,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
		ResolvedAt:      inv.ResolvedAt,
	}
}
