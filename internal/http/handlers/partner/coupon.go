package partner

import (
	"strconv"

	handlershared "github.com/Do1K/b2b-point-service/internal/http/handlers/shared"
	"github.com/Do1K/b2b-point-service/internal/http/response"
	"github.com/Do1K/b2b-point-service/internal/models"
	"github.com/Do1K/b2b-point-service/internal/service"

	"github.com/gin-gonic/gin"
)

// IssueCouponRequest 发放优惠券请求
type IssueCouponRequest struct {
	CouponTemplateID uint   `json:"coupon_template_id" binding:"required"`
	UserID           string `json:"user_id" binding:"required"`
}

// UseCouponRequest 核销优惠券请求
type UseCouponRequest struct {
	UserID      string       `json:"user_id" binding:"required"`
	OrderID     string       `json:"order_id" binding:"required"`
	OrderAmount models.Money `json:"order_amount"`
}

// CouponResponse 用户优惠券
type CouponResponse struct {
	models.Coupon
	TemplateName string `json:"template_name"`
}

// IssueCoupon 同步发放（模板行锁）
func (h *Handler) IssueCoupon(c *gin.Context) {
	partnerID, req, ok := h.bindIssueRequest(c)
	if !ok {
		return
	}
	coupon, err := h.CouponService.IssueDirect(c.Request.Context(), partnerID, service.IssueCouponInput{
		TemplateID: req.CouponTemplateID,
		UserID:     req.UserID,
	})
	if err != nil {
		respondCouponIssueError(c, err)
		return
	}
	response.Success(c, coupon)
}

// IssueCouponAsync 异步发放（Redis 准入 + 队列）
func (h *Handler) IssueCouponAsync(c *gin.Context) {
	partnerID, req, ok := h.bindIssueRequest(c)
	if !ok {
		return
	}
	err := h.CouponService.IssueAsync(c.Request.Context(), partnerID, service.IssueCouponInput{
		TemplateID: req.CouponTemplateID,
		UserID:     req.UserID,
	})
	if err != nil {
		respondCouponIssueError(c, err)
		return
	}
	response.SuccessWithMsg(c, "accepted", gin.H{
		"coupon_template_id": req.CouponTemplateID,
		"user_id":            req.UserID,
	})
}

func (h *Handler) bindIssueRequest(c *gin.Context) (uint, IssueCouponRequest, bool) {
	var req IssueCouponRequest
	partnerID, ok := getPartnerID(c)
	if !ok {
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return 0, req, false
	}
	return partnerID, req, true
}

// ListUserCoupons 查询用户优惠券
func (h *Handler) ListUserCoupons(c *gin.Context) {
	partnerID, ok := getPartnerID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = handlershared.NormalizePagination(page, pageSize)

	views, total, err := h.CouponService.ListCoupons(partnerID, c.Param("user_id"), page, pageSize)
	if err != nil {
		respondWithMappedError(c, err, couponCommonErrorRules, response.CodeInternal, "error.coupon_fetch_failed")
		return
	}
	items := make([]CouponResponse, 0, len(views))
	for _, view := range views {
		items = append(items, CouponResponse{Coupon: view.Coupon, TemplateName: view.TemplateName})
	}
	response.SuccessWithPage(c, items, response.BuildPagination(page, pageSize, total))
}

// UseCoupon 核销优惠券
func (h *Handler) UseCoupon(c *gin.Context) {
	partnerID, ok := getPartnerID(c)
	if !ok {
		return
	}
	var req UseCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}

	result, err := h.CouponService.UseCoupon(partnerID, c.Param("code"), service.UseCouponInput{
		UserID:      req.UserID,
		OrderID:     req.OrderID,
		OrderAmount: req.OrderAmount,
	})
	if err != nil {
		respondCouponUseError(c, err)
		return
	}
	response.Success(c, gin.H{
		"coupon":          result.Coupon,
		"discount_amount": result.DiscountAmount,
	})
}
