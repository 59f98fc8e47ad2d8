package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/spectro-head/internal/models"
	"github.com/wfunc/spectro-head/internal/repository"
)

// TransactionLogAPI 事务历史API
type TransactionLogAPI struct {
	repo *repository.TransactionLogRepository
}

// NewTransactionLogAPI 创建事务历史API
func NewTransactionLogAPI(repo *repository.TransactionLogRepository) *TransactionLogAPI {
	return &TransactionLogAPI{
		repo: repo,
	}
}

// RegisterRoutes 注册路由
func (api *TransactionLogAPI) RegisterRoutes(router *gin.RouterGroup) {
	logs := router.Group("/transactions")
	{
		logs.GET("", api.QueryLogs)                    // 查询历史列表
		logs.GET("/operation/:id", api.GetByOperation) // 按操作ID查询
		logs.GET("/stats", api.GetStats)               // 按结果统计
		logs.POST("/cleanup", api.CleanupLogs)         // 清理旧记录
	}
}

// QueryLogs 查询事务历史
func (api *TransactionLogAPI) QueryLogs(c *gin.Context) {
	query := &models.TransactionLogQuery{}

	query.OperationID = c.Query("operation_id")
	query.Target = c.Query("target")
	if outcome := c.Query("outcome"); outcome != "" {
		query.Outcome = models.TransactionOutcome(outcome)
	}

	// 时间范围
	if startTime := c.Query("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			query.StartTime = &t
		}
	}
	if endTime := c.Query("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			query.EndTime = &t
		}
	}

	// 分页参数
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, total, err := api.repo.Query(query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "查询失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetByOperation 获取一次操作的全部事务（按发送顺序）
func (api *TransactionLogAPI) GetByOperation(c *gin.Context) {
	operationID := c.Param("id")
	if operationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "operation_id不能为空",
		})
		return
	}

	logs, err := api.repo.GetByOperationID(operationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "查询失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 按结果统计事务数量
func (api *TransactionLogAPI) GetStats(c *gin.Context) {
	outcomes := []models.TransactionOutcome{
		models.OutcomeSuccess,
		models.OutcomeErrorCode,
		models.OutcomeTimeout,
		models.OutcomeMalformed,
		models.OutcomeMismatched,
	}

	stats := make(map[string]int64, len(outcomes))
	for _, outcome := range outcomes {
		count, err := api.repo.CountByOutcome(outcome)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取统计失败",
				"message": err.Error(),
			})
			return
		}
		stats[string(outcome)] = count
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// CleanupLogs 清理指定保留期之前的记录
func (api *TransactionLogAPI) CleanupLogs(c *gin.Context) {
	retentionDays, _ := strconv.Atoi(c.DefaultPostForm("retention_days", "30"))
	if retentionDays < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "保留天数必须大于0",
		})
		return
	}

	before := time.Now().AddDate(0, 0, -retentionDays)
	count, err := api.repo.Prune(before)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "清理失败",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        count,
		"retention_days": retentionDays,
	})
}
