package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/spectro-head/internal/head"
	"github.com/wfunc/spectro-head/internal/repository"
	ws "github.com/wfunc/spectro-head/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine      *gin.Engine
	db          *gorm.DB
	headHandler *HeadHandler
	logAPI      *TransactionLogAPI
	wsHandler   *StatusStreamHandler
	log         *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, controller *head.HeadController, hub *ws.StatusHub, log *zap.Logger) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	router := &Router{
		engine:      engine,
		db:          db,
		headHandler: NewHeadHandler(controller, log),
		logAPI:      NewTransactionLogAPI(repository.NewTransactionLogRepository(db)),
		wsHandler:   NewStatusStreamHandler(hub, log),
		log:         log,
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 探头操作
		headGroup := v1.Group("/head")
		{
			headGroup.POST("/wheel/move", r.headHandler.Move)
			headGroup.POST("/reset", r.headHandler.Reset)
			headGroup.POST("/shadowband/step", r.headHandler.Step)
			headGroup.GET("/status", r.headHandler.Status)
			headGroup.POST("/abort", r.headHandler.Abort)
			headGroup.DELETE("/abort", r.headHandler.ClearAbort)
			headGroup.PUT("/recovery/limit", r.headHandler.SetLimit)
			headGroup.POST("/identity", r.headHandler.Identity)
			headGroup.GET("/filters", r.headHandler.Filters)
		}

		// 事务历史
		r.logAPI.RegisterRoutes(v1)
	}

	// WebSocket状态流
	wsGroup := r.engine.Group("/ws")
	{
		wsGroup.GET("/status", r.wsHandler.StatusStream)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	})
}

// Run 运行服务器
func (r *Router) Run(addr string) error {
	r.log.Info("Starting API server", zap.String("address", addr))
	return r.engine.Run(addr)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// StatusStreamHandler WebSocket状态流处理器
type StatusStreamHandler struct {
	hub      *ws.StatusHub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStatusStreamHandler 创建状态流处理器
func NewStatusStreamHandler(hub *ws.StatusHub, logger *zap.Logger) *StatusStreamHandler {
	return &StatusStreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 设备部署在封闭网络内，不校验Origin
				return true
			},
		},
		logger: logger,
	}
}

// StatusStream 升级连接并订阅状态推送
func (h *StatusStreamHandler) StatusStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return
	}

	client := ws.NewStatusClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("状态流连接建立", zap.String("ip", c.ClientIP()))
}
