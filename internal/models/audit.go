package models

import "time"

// AuditFields 审计时间字段，由 gorm 在写入时填充
type AuditFields struct {
	CreatedAt time.Time `gorm:"index" json:"created_at"` // 创建时间
	UpdatedAt time.Time `json:"updated_at"`              // 更新时间
}

// Touch 以同一时间戳初始化审计字段
func (a *AuditFields) Touch(now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}
