package adapter

import (
	"github.com/wfunc/spectro-head/internal/head"
	"github.com/wfunc/spectro-head/internal/logger"
	"github.com/wfunc/spectro-head/internal/models"
	"github.com/wfunc/spectro-head/internal/repository"
	"go.uber.org/zap"
)

// DBRecorder 把事务记录写入数据库的观察者
// 持久化失败只记日志，绝不影响串口操作本身
type DBRecorder struct {
	repo   *repository.TransactionLogRepository
	logger *zap.Logger
}

// NewDBRecorder 创建数据库记录器
func NewDBRecorder(repo *repository.TransactionLogRepository) *DBRecorder {
	return &DBRecorder{
		repo:   repo,
		logger: logger.GetModuleLogger("recorder"),
	}
}

// outcomeOf 引擎结果到持久化枚举的映射
func outcomeOf(o head.Outcome) models.TransactionOutcome {
	switch o {
	case head.OutcomeSuccess:
		return models.OutcomeSuccess
	case head.OutcomeErrorCode:
		return models.OutcomeErrorCode
	case head.OutcomeMalformed:
		return models.OutcomeMalformed
	case head.OutcomeMismatched:
		return models.OutcomeMismatched
	default:
		return models.OutcomeTimeout
	}
}

// Record 实现 head.Recorder
func (r *DBRecorder) Record(operationID string, target head.Target, rec head.TransactionRecord) {
	log := &models.TransactionLog{
		OperationID:   operationID,
		Target:        string(target),
		Sent:          rec.Sent,
		Received:      rec.Received,
		Outcome:       outcomeOf(rec.Outcome),
		Code:          rec.Code,
		RecoveryLevel: rec.Level,
		Duration:      rec.Duration.Milliseconds(),
		Timestamp:     rec.Timestamp.UnixMilli(),
	}

	if err := r.repo.Create(log); err != nil {
		r.logger.Warn("事务记录持久化失败",
			zap.String("operation_id", operationID),
			zap.String("sent", rec.Sent),
			zap.Error(err))
	}
}
