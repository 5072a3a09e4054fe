package handler

import (
	"ctxbot-go/internal/middleware"
	"ctxbot-go/internal/service"
	"ctxbot-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总了路由所需的全部处理器。
type Handlers struct {
	Auth      *AuthHandler
	Knowledge *KnowledgeHandler
	History   *HistoryHandler
	Chat      *ChatHandler
	Health    *HealthHandler
}

// NewRouter 创建 Gin 引擎并注册所有路由。
func NewRouter(jwtManager *token.JWTManager, h Handlers) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := r.Group("/api/v1")
	{
		// 无需认证的路由
		apiV1.GET("/health", h.Health.Health)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/login", h.Auth.Login)
			auth.POST("/refreshToken", h.Auth.RefreshToken)
		}

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		admin := middleware.RequireRole(service.AdminRole)
		{
			knowledge := authed.Group("/knowledge")
			{
				knowledge.GET("", h.Knowledge.Stats)
				knowledge.POST("", admin, h.Knowledge.AddEntry)
				knowledge.POST("/documents", admin, h.Knowledge.UploadDocument)
				knowledge.GET("/search", h.Knowledge.Search)
			}

			chats := authed.Group("/chats/:chatId")
			{
				chats.GET("/messages", h.History.ListMessages)
				chats.DELETE("/messages", admin, h.History.ClearMessages)
				chats.POST("/context", h.History.PreviewContext)
			}
		}
	}

	// Chat 路由 (WebSocket)，token 在路径中
	r.GET("/chat/:token", h.Chat.Handle)
	return r
}
