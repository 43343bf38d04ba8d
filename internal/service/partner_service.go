package service

import (
	"strings"

	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/repository"
)

// PartnerService 合作方解析
type PartnerService struct {
	partnerRepo repository.PartnerRepository
}

// NewPartnerService 创建合作方服务
func NewPartnerService(partnerRepo repository.PartnerRepository) *PartnerService {
	return &PartnerService{partnerRepo: partnerRepo}
}

// ResolveByAPIKey 按接入密钥解析合作方
func (s *PartnerService) ResolveByAPIKey(apiKey string) (*models.Partner, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrPartnerNotFound
	}
	partner, err := s.partnerRepo.GetByAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, ErrPartnerNotFound
	}
	if !partner.IsActive() {
		return nil, ErrPartnerDisabled
	}
	return partner, nil
}
