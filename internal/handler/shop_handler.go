package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"dianping/shophub/internal/model"
	"dianping/shophub/internal/service"
	"dianping/shophub/pkg/response"
)

type ShopHandler struct {
	shopService service.ShopService
}

func NewShopHandler(shopService service.ShopService) *ShopHandler {
	return &ShopHandler{shopService: shopService}
}

func (h *ShopHandler) Get(c *gin.Context) {
	h.get(c, h.shopService.QueryByID)
}

// GetHot serves shops from the pre-warmed logical-expiry cache.
func (h *ShopHandler) GetHot(c *gin.Context) {
	h.get(c, h.shopService.QueryHotByID)
}

func (h *ShopHandler) get(c *gin.Context, query func(ctx context.Context, id int64) (*model.Shop, error)) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid shop id")
		return
	}

	shop, err := query(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			response.NotFound(c, "shop not found")
			return
		}
		_ = c.Error(err)
		response.InternalError(c, "query shop failed")
		return
	}
	response.Success(c, shop)
}

type UpdateShopRequest struct {
	Name      string  `json:"name" binding:"required"`
	TypeID    int64   `json:"type_id"`
	Images    string  `json:"images"`
	Area      string  `json:"area"`
	Address   string  `json:"address"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	AvgPrice  int64   `json:"avg_price"`
	Sold      int     `json:"sold"`
	Comments  int     `json:"comments"`
	Score     int     `json:"score"`
	OpenHours string  `json:"open_hours"`
}

func (h *ShopHandler) Update(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		response.BadRequest(c, "invalid shop id")
		return
	}

	var req UpdateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	shop := &model.Shop{
		ID:        id,
		Name:      req.Name,
		TypeID:    req.TypeID,
		Images:    req.Images,
		Area:      req.Area,
		Address:   req.Address,
		X:         req.X,
		Y:         req.Y,
		AvgPrice:  req.AvgPrice,
		Sold:      req.Sold,
		Comments:  req.Comments,
		Score:     req.Score,
		OpenHours: req.OpenHours,
	}
	if err := h.shopService.Update(c.Request.Context(), shop); err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			response.NotFound(c, "shop not found")
			return
		}
		_ = c.Error(err)
		response.InternalError(c, "update shop failed")
		return
	}
	response.Success(c, nil)
}
