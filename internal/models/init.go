package models

import (
	"errors"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"

	"gorm.io/gorm"
)

// InitDefaultPartner 按环境变量初始化默认合作方（密钥为空时跳过）
func InitDefaultPartner(name, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}

	var existing Partner
	err := DB.Where("api_key = ?", apiKey).First(&existing).Error
	if err == nil {
		if existing.Status != constants.PartnerStatusActive {
			if err := DB.Model(&existing).Update("status", constants.PartnerStatusActive).Error; err != nil {
				logger.Warnw("ensure_default_partner_active_failed", "partner_id", existing.ID, "error", err)
			}
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	partner := Partner{
		Name:   name,
		APIKey: apiKey,
		Status: constants.PartnerStatusActive,
	}
	partner.Touch(time.Now())
	if err := DB.Create(&partner).Error; err != nil {
		return err
	}
	logger.Infow("default_partner_created", "partner_id", partner.ID, "name", partner.Name)
	return nil
}
