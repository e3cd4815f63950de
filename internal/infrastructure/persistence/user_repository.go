package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormUserRepository implements payment.UserRepository using GORM
type GormUserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormUserRepository creates a new GormUserRepository
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db, now: time.Now}
}

// GetOrCreate finds the user by telegram id or registers a new one
func (r *GormUserRepository) GetOrCreate(ctx context.Context, telegramID int64, username, firstName string) (*payment.User, error) {
	var model models.UserModel
	err := r.db.WithContext(ctx).
		Where(models.UserModel{TelegramID: telegramID}).
		Attrs(models.UserModel{
			Username:  username,
			FirstName: firstName,
			CreatedAt: r.now(),
		}).
		FirstOrCreate(&model).Error
	if err != nil {
		// A concurrent registration may have won the unique index
		if findErr := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&model).Error; findErr != nil {
			return nil, fmt.Errorf("get or create user %d: %w", telegramID, err)
		}
	}
	return model.ToDomain(), nil
}

// Stats counts new users for the day of now, the day before and in total
func (r *GormUserRepository) Stats(ctx context.Context, now time.Time) (*payment.UserStats, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	var stats payment.UserStats
	db := r.db.WithContext(ctx).Model(&models.UserModel{})

	if err := db.Session(&gorm.Session{}).
		Where("created_at >= ? AND created_at < ?", today, tomorrow).
		Count(&stats.NewToday).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).
		Where("created_at >= ? AND created_at < ?", yesterday, today).
		Count(&stats.NewYesterday).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// Ensure GormUserRepository implements payment.UserRepository
var _ payment.UserRepository = (*GormUserRepository)(nil)
