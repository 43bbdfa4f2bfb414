package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"dianping/shophub/internal/handler/middleware"
)

var (
	ErrNoClaims  = errors.New("claims not found in context")
	ErrInvalidID = errors.New("invalid id")
)

func getUserIDFromContext(c *gin.Context) (int64, error) {
	v, exists := c.Get(middleware.ContextKeyUserID)
	if !exists {
		return 0, ErrNoClaims
	}
	id, ok := v.(int64)
	if !ok {
		return 0, ErrNoClaims
	}
	return id, nil
}

// parseIDParam reads a positive int64 path parameter.
func parseIDParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
