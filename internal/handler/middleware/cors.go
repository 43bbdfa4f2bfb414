package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"dianping/shophub/internal/config"
)

// CORS builds the cross-origin policy. A "*" entry allows every origin and
// cannot be combined with credentials.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  cfg.AllowedMethods,
		AllowHeaders:  cfg.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        cfg.MaxAge.Truncate(time.Second),
	}
	if slices.Contains(cfg.AllowedOrigins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.AllowedOrigins
		cc.AllowCredentials = cfg.AllowCredentials
	}
	return cors.New(cc)
}
