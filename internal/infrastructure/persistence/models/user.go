package models

import (
	"time"

	"github.com/imagebot/backend/internal/domain/payment"
)

// UserModel is the persistence model for payment.User
type UserModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	TelegramID  int64     `gorm:"not null;uniqueIndex"`
	Username    string    `gorm:"type:varchar(255)"`
	FirstName   string    `gorm:"type:varchar(255)"`
	HasFreeUsed bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

// TableName returns the table name for the model
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts the model to a domain user
func (m *UserModel) ToDomain() *payment.User {
	return &payment.User{
		ID:          m.ID,
		TelegramID:  m.TelegramID,
		Username:    m.Username,
		FirstName:   m.FirstName,
		HasFreeUsed: m.HasFreeUsed,
		CreatedAt:   m.CreatedAt,
	}
}
