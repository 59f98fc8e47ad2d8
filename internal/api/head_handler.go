package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/head"
	"go.uber.org/zap"
)

// HeadHandler 探头操作API处理器
type HeadHandler struct {
	controller *head.HeadController
	logger     *zap.Logger
}

// NewHeadHandler 创建探头处理器
func NewHeadHandler(controller *head.HeadController, logger *zap.Logger) *HeadHandler {
	return &HeadHandler{
		controller: controller,
		logger:     logger,
	}
}

// MoveRequest 移动滤光轮请求
type MoveRequest struct {
	Wheel    string `json:"wheel" binding:"required"`    // FW1 / FW2
	Position int    `json:"position" binding:"required"` // 1..9
}

// ResetRequest 复位请求
type ResetRequest struct {
	Target string `json:"target" binding:"required"` // FW1 / FW2 / SB
}

// StepRequest 遮光带步进请求
// 指针字段区分“未提供”和合法的0值：0步与0上限都是有效输入
type StepRequest struct {
	Steps *int `json:"steps" binding:"required"` // -1000..1000
}

// LimitRequest 恢复梯级上限请求
type LimitRequest struct {
	Limit *int `json:"limit" binding:"required"` // -1自动 / 0..4上限
}

// OperationResponse 操作结果
type OperationResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Status  head.StatusSnapshot `json:"status"`
}

// respondOperation 统一的操作结果应答
func (h *HeadHandler) respondOperation(c *gin.Context, success bool, message string) {
	status := http.StatusOK
	if !success {
		status = http.StatusBadGateway
	}
	c.JSON(status, OperationResponse{
		Success: success,
		Message: message,
		Status:  h.controller.Status(),
	})
}

// respondError 参数错误应答
func respondError(c *gin.Context, status int, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		c.JSON(status, errors.NewErrorResponse(appErr, c.GetString("request_id")))
		return
	}
	c.JSON(status, gin.H{"success": false, "message": err.Error()})
}

// Move 移动滤光轮到指定位置
// POST /api/v1/head/wheel/move
func (h *HeadHandler) Move(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	target := head.Target(req.Wheel)
	if target != head.TargetFW1 && target != head.TargetFW2 {
		respondError(c, http.StatusBadRequest, errors.Newf(errors.ErrInvalidTarget, "滤光轮: %q", req.Wheel))
		return
	}

	success, msg := h.controller.Execute(head.MoveAction(target, req.Position))
	h.respondOperation(c, success, msg)
}

// Reset 复位滤光轮或遮光带
// POST /api/v1/head/reset
func (h *HeadHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	target := head.Target(req.Target)
	if !target.Valid() {
		respondError(c, http.StatusBadRequest, errors.Newf(errors.ErrInvalidTarget, "目标: %q", req.Target))
		return
	}

	success, msg := h.controller.Execute(head.ResetAction(target))
	h.respondOperation(c, success, msg)
}

// Step 遮光带步进
// POST /api/v1/head/shadowband/step
func (h *HeadHandler) Step(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	success, msg := h.controller.Execute(head.ShadowbandAction(*req.Steps))
	h.respondOperation(c, success, msg)
}

// Status 当前链路状态快照
// GET /api/v1/head/status
func (h *HeadHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.controller.Status(),
	})
}

// Abort 设置用户中止标志
// POST /api/v1/head/abort
func (h *HeadHandler) Abort(c *gin.Context) {
	h.controller.Abort()
	h.logger.Info("用户中止标志已置位", zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "中止标志已置位"})
}

// ClearAbort 清除用户中止标志
// DELETE /api/v1/head/abort
func (h *HeadHandler) ClearAbort(c *gin.Context) {
	h.controller.ClearAbort()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "中止标志已清除"})
}

// SetLimit 设置恢复梯级上限
// PUT /api/v1/head/recovery/limit
func (h *HeadHandler) SetLimit(c *gin.Context) {
	var req LimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}
	limit := *req.Limit
	if limit < -1 || limit > head.RecoveryLevels-1 {
		respondError(c, http.StatusBadRequest, errors.Newf(errors.ErrInvalidParam, "limit: %d", limit))
		return
	}

	h.controller.SetRecoveryLimit(limit)
	c.JSON(http.StatusOK, gin.H{"success": true, "limit": limit})
}

// Identity 纯底层身份诊断
// POST /api/v1/head/identity
func (h *HeadHandler) Identity(c *gin.Context) {
	if err := h.controller.VerifyIdentity(); err != nil {
		respondError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "身份确认"})
}

// Filters 滤光片名称表
// GET /api/v1/head/filters
func (h *HeadHandler) Filters(c *gin.Context) {
	table := h.controller.FilterTable()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"FW1": table.Wheel(head.TargetFW1),
			"FW2": table.Wheel(head.TargetFW2),
		},
	})
}
