package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"rentchat/internal/infra/config"
	"rentchat/internal/infra/obs"
)

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	CreateConversation(c *gin.Context)
	DeleteConversation(c *gin.Context)
	ListMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	UploadAttachment(c *gin.Context)
}

type RealtimeHTTP interface {
	Stream(c *gin.Context)
}

type AuthHTTP interface {
	IssueToken(c *gin.Context)
	RegisterService(c *gin.Context)
}

type Handlers struct {
	Chat           ChatHTTP
	Realtime       RealtimeHTTP
	Auth           AuthHTTP
	AuthMiddleware gin.HandlerFunc
	// SendLimiter guards the write endpoints.
	SendLimiter gin.HandlerFunc
	Metrics     http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine without touching the global gin mode.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	limit := h.SendLimiter
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	api := router.Group("/api/v1")
	if h.Auth != nil {
		api.POST("/auth/token", limit, h.Auth.IssueToken)
		api.PUT("/services/:id", h.Auth.RegisterService)
	}
	if h.Chat != nil {
		conv := api.Group("/conversations")
		conv.GET("", h.Chat.ListConversations)
		conv.POST("", limit, h.Chat.CreateConversation)
		conv.GET("/:id", h.Chat.GetConversation)
		conv.DELETE("/:id", h.Chat.DeleteConversation)
		conv.GET("/:id/messages", h.Chat.ListMessages)
		conv.POST("/:id/messages", limit, h.Chat.SendMessage)
		conv.POST("/:id/read", h.Chat.MarkRead)
		conv.POST("/:id/attachments", limit, h.Chat.UploadAttachment)
	}
	if h.Realtime != nil {
		router.GET("/ws/conversations/:id", h.Realtime.Stream)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
