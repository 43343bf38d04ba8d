package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskCouponIssue 优惠券发放消息任务
	TaskCouponIssue = constants.TaskCouponIssue
)

// ErrInvalidIssuanceMessage 消息字段缺失
var ErrInvalidIssuanceMessage = errors.New("invalid issuance message")

// IssuanceMessage 发放消息（闸门放行后产生，经队列进入缓冲区，最终由批处理入库）
type IssuanceMessage struct {
	PartnerID  uint      `json:"partner_id"`
	TemplateID uint      `json:"template_id"`
	UserID     string    `json:"user_id"`
	ValidUntil time.Time `json:"valid_until"`
}

// NewIssuanceMessage 创建发放消息
func NewIssuanceMessage(partnerID, templateID uint, userID string, validUntil time.Time) IssuanceMessage {
	return IssuanceMessage{
		PartnerID:  partnerID,
		TemplateID: templateID,
		UserID:     strings.TrimSpace(userID),
		ValidUntil: validUntil.UTC(),
	}
}

// Validate 校验必填字段
func (m IssuanceMessage) Validate() error {
	if m.PartnerID == 0 || m.TemplateID == 0 || m.UserID == "" || m.ValidUntil.IsZero() {
		return ErrInvalidIssuanceMessage
	}
	return nil
}

// Encode 序列化为 JSON
func (m IssuanceMessage) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeIssuanceMessage 反序列化并校验
func DecodeIssuanceMessage(data []byte) (IssuanceMessage, error) {
	var msg IssuanceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return IssuanceMessage{}, fmt.Errorf("%w: %v", ErrInvalidIssuanceMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return IssuanceMessage{}, err
	}
	return msg, nil
}

// NewCouponIssueTask 创建发放任务
func NewCouponIssueTask(msg IssuanceMessage, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCouponIssue, body, opts...), nil
}
