package repository

import (
	"errors"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/models"

	"gorm.io/gorm"
)

// PartnerRepository 合作方数据访问接口
type PartnerRepository interface {
	GetByID(id uint) (*models.Partner, error)
	GetByAPIKey(apiKey string) (*models.Partner, error)
	Create(partner *models.Partner) error
	WithTx(tx *gorm.DB) *GormPartnerRepository
}

// GormPartnerRepository GORM 实现
type GormPartnerRepository struct {
	db *gorm.DB
}

// NewPartnerRepository 创建合作方仓库
func NewPartnerRepository(db *gorm.DB) *GormPartnerRepository {
	return &GormPartnerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPartnerRepository) WithTx(tx *gorm.DB) *GormPartnerRepository {
	if tx == nil {
		return r
	}
	return &GormPartnerRepository{db: tx}
}

// GetByID 根据ID获取合作方
func (r *GormPartnerRepository) GetByID(id uint) (*models.Partner, error) {
	var partner models.Partner
	if err := r.db.First(&partner, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

// GetByAPIKey 根据接入密钥获取合作方
func (r *GormPartnerRepository) GetByAPIKey(apiKey string) (*models.Partner, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil
	}
	var partner models.Partner
	if err := r.db.Where("api_key = ?", apiKey).First(&partner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

// Create 创建合作方
func (r *GormPartnerRepository) Create(partner *models.Partner) error {
	return r.db.Create(partner).Error
}
