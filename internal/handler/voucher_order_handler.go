package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"dianping/shophub/internal/lock"
	"dianping/shophub/internal/seckill"
	"dianping/shophub/internal/service"
	"dianping/shophub/pkg/response"
)

type VoucherOrderHandler struct {
	orderService service.VoucherOrderService
}

func NewVoucherOrderHandler(orderService service.VoucherOrderService) *VoucherOrderHandler {
	return &VoucherOrderHandler{orderService: orderService}
}

// Seckill answers with the order id as soon as the order is queued.
func (h *VoucherOrderHandler) Seckill(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		response.Unauthorized(c, "invalid user context")
		return
	}
	voucherID, err := parseIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid voucher id")
		return
	}

	orderID, err := h.orderService.Seckill(c.Request.Context(), voucherID, userID)
	if err != nil {
		switch {
		case errors.Is(err, seckill.ErrStockExhausted):
			response.Rejected(c, string(seckill.ReasonStockExhausted), "sold out")
		case errors.Is(err, seckill.ErrDuplicateOrder):
			response.Rejected(c, string(seckill.ReasonDuplicateOrder), "one order per user")
		case errors.Is(err, service.ErrVoucherNotFound):
			response.NotFound(c, err.Error())
		case errors.Is(err, service.ErrSeckillNotStarted), errors.Is(err, service.ErrSeckillEnded):
			response.Forbidden(c, err.Error())
		case errors.Is(err, lock.ErrNotAcquired):
			response.ServiceUnavailable(c, "busy, retry shortly")
		default:
			_ = c.Error(err)
			response.InternalError(c, "seckill failed")
		}
		return
	}

	// Order ids exceed the exact integer range of JavaScript numbers.
	response.Success(c, gin.H{"order_id": strconv.FormatInt(orderID, 10)})
}
