package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/service"
	"dianping/shophub/pkg/response"
)

type VoucherHandler struct {
	voucherService service.VoucherService
}

func NewVoucherHandler(voucherService service.VoucherService) *VoucherHandler {
	return &VoucherHandler{voucherService: voucherService}
}

type AddSeckillVoucherRequest struct {
	ShopID      int64     `json:"shop_id" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	SubTitle    string    `json:"sub_title"`
	Rules       string    `json:"rules"`
	PayValue    int64     `json:"pay_value" binding:"required"`
	ActualValue int64     `json:"actual_value" binding:"required"`
	Stock       int       `json:"stock" binding:"min=0"`
	BeginTime   time.Time `json:"begin_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
}

func (h *VoucherHandler) AddSeckill(c *gin.Context) {
	var req AddSeckillVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sv, err := h.voucherService.AddSeckillVoucher(c.Request.Context(), service.AddSeckillVoucherInput{
		ShopID:      req.ShopID,
		Title:       req.Title,
		SubTitle:    req.SubTitle,
		Rules:       req.Rules,
		PayValue:    req.PayValue,
		ActualValue: req.ActualValue,
		Stock:       req.Stock,
		BeginTime:   req.BeginTime,
		EndTime:     req.EndTime,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidVoucher) {
			response.BadRequest(c, err.Error())
			return
		}
		_ = c.Error(err)
		response.InternalError(c, "add seckill voucher failed")
		return
	}
	response.Success(c, sv)
}

func (h *VoucherHandler) GetSeckill(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}

	sv, err := h.voucherService.GetSeckillVoucher(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrVoucherNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, lock.ErrNotAcquired):
			response.ServiceUnavailable(c, "busy, retry shortly")
		default:
			_ = c.Error(err)
			response.InternalError(c, "query seckill voucher failed")
		}
		return
	}
	response.Success(c, sv)
}

func (h *VoucherHandler) Stats(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}

	st, err := h.voucherService.Stats(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		response.InternalError(c, "voucher stats failed")
		return
	}
	response.Success(c, gin.H{"stock": st.Stock, "admitted": st.Admitted})
}
