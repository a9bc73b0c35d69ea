package handler

import (
	"github.com/gin-gonic/gin"

	"vera-go/internal/middleware"
	"vera-go/internal/service"
)

// Services 汇总了路由需要的全部业务服务。
type Services struct {
	Ingest        service.IngestService
	Chat          service.ChatService
	Documents     service.DocumentService
	Collections   service.CollectionService
	DefaultDomain string
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(svc Services) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	ingestHandler := NewIngestHandler(svc.Ingest, svc.DefaultDomain)
	chatHandler := NewChatHandler(svc.Chat)
	collectionHandler := NewCollectionHandler(svc.Collections)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/health", Health)

		apiV1.POST("/ingest", ingestHandler.Ingest)
		apiV1.POST("/upload", ingestHandler.Ingest)
		apiV1.GET("/ingest/jobs/:id", ingestHandler.GetJob)

		apiV1.POST("/chat", chatHandler.Chat)
		apiV1.GET("/chat/ws", chatHandler.Handle)

		apiV1.GET("/docs", NewDocumentHandler(svc.Documents).ListIndexed)
	}

	collections := r.Group("/collections")
	{
		collections.GET("/all", collectionHandler.ListAll)
		collections.GET("", collectionHandler.Get)
		collections.GET("/:id", collectionHandler.Get)
		collections.DELETE("", collectionHandler.Delete)
		collections.DELETE("/:id", collectionHandler.Delete)
	}
	return r
}
