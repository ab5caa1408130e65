package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/doubles-registration/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.PairingService, limiter RateLimitStore, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	if limiter != nil {
		r.Use(RateLimitMiddleware(limiter))
	}
	RegisterHandlers(r, svc)
	return r
}
