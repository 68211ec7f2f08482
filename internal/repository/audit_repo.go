package repository

import (
	"abonix/internal/models"

	"gorm.io/gorm"
)

type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Create(entry *models.AuditLog) error {
	return r.db.Create(entry).Error
}

func (r *AuditLogRepository) List(action string, page, limit int) ([]models.AuditLog, int64, error) {
	q := r.db.Model(&models.AuditLog{})
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var total int64
	q.Count(&total)
	var logs []models.AuditLog
	err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&logs).Error
	return logs, total, err
}
