package partner

import (
	"time"

	"github.com/Do1K/b2b-point-service/internal/http/response"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateCouponTemplateRequest 创建优惠券模板请求
type CreateCouponTemplateRequest struct {
	Name              string        `json:"name" binding:"required"`
	CouponType        string        `json:"coupon_type" binding:"required"`
	DiscountValue     models.Money  `json:"discount_value"`
	MaxDiscountAmount *models.Money `json:"max_discount_amount"`
	MinOrderAmount    models.Money  `json:"min_order_amount"`
	TotalQuantity     *int          `json:"total_quantity"`
	ValidFrom         time.Time     `json:"valid_from" binding:"required"`
	ValidUntil        time.Time     `json:"valid_until" binding:"required"`
}

// CreateCouponTemplate 创建优惠券模板
func (h *Handler) CreateCouponTemplate(c *gin.Context) {
	partnerID, ok := getPartnerID(c)
	if !ok {
		return
	}
	var req CreateCouponTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}

	template, err := h.CouponService.CreateTemplate(c.Request.Context(), partnerID, service.CreateCouponTemplateInput{
		Name:              req.Name,
		CouponType:        req.CouponType,
		DiscountValue:     req.DiscountValue,
		MaxDiscountAmount: req.MaxDiscountAmount,
		MinOrderAmount:    req.MinOrderAmount,
		TotalQuantity:     req.TotalQuantity,
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
	})
	if err != nil {
		respondTemplateCreateError(c, err)
		return
	}
	response.Success(c, template)
}

// GetAdmissionStatus 查询模板准入计数
func (h *Handler) GetAdmissionStatus(c *gin.Context) {
	partnerID, ok := getPartnerID(c)
	if !ok {
		return
	}
	templateID, ok := parseUintParam(c, "id")
	if !ok {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}

	status, err := h.CouponService.AdmissionStatus(c.Request.Context(), partnerID, templateID)
	if err != nil {
		respondAdmissionError(c, err)
		return
	}
	response.Success(c, gin.H{
		"template_id":    status.TemplateID,
		"claimed":        status.Claimed,
		"total_quantity": status.TotalQuantity,
		"remaining":      status.Remaining,
	})
}
