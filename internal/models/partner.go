package models

import "github.com/Do1K/b2b-point-service/internal/constants"

// Partner 合作方（B2B 接入方）
type Partner struct {
	ID     uint   `gorm:"primarykey" json:"id"`                   // 主键
	Name   string `gorm:"size:100;not null" json:"name"`          // 名称
	APIKey string `gorm:"size:128;uniqueIndex;not null" json:"-"` // 接入密钥
	Status string `gorm:"size:20;not null;index" json:"status"`   // 状态（active/disabled）
	AuditFields
}

// TableName 指定表名
func (Partner) TableName() string {
	return "partners"
}

// IsActive 是否可用
func (p *Partner) IsActive() bool {
	return p != nil && p.Status == constants.PartnerStatusActive
}
