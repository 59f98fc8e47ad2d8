package head

import (
	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/logger"
	"go.uber.org/zap"
)

// RecoveryController 恢复梯级控制器
//
// 梯级动作：
//
//	0  直接发送原指令
//	1  先复位同一目标，再重发原指令
//	2  身份查询，确认后降回梯级1重试
//	3  关闭并重开串口端点，再从梯级2确认
//	4  等待高层超时后从梯级0重新执行整个操作
//
// 梯级只在失败时上升，只在梯级≥1的成功后下降一级；
// 每个梯级维护独立的进入计数，顶级计数达到上限即强制中止
type RecoveryController struct {
	status     *TransactionStatus
	attemptCap int // 每个梯级的进入次数上限
	logger     *zap.Logger
}

// NewRecoveryController 创建恢复控制器
func NewRecoveryController(status *TransactionStatus, attemptCap int) *RecoveryController {
	if attemptCap <= 0 {
		attemptCap = 5
	}
	return &RecoveryController{
		status:     status,
		attemptCap: attemptCap,
		logger:     logger.GetModuleLogger("recovery"),
	}
}

// AttemptCap 每级尝试上限
func (r *RecoveryController) AttemptCap() int {
	return r.attemptCap
}

// Escalate 失败后决定下一个梯级
// 返回非nil错误表示恢复流程终止（用户中止/强制中止/达到用户上限）
func (r *RecoveryController) Escalate(reason string) error {
	st := r.status
	st.mu.Lock()

	rec := &st.recovery

	// 用户中止优先于自动升级
	if rec.Limit == LimitUserAbort {
		st.mu.Unlock()
		return errors.New(errors.ErrAbortUser)
	}

	next := rec.Level + 1
	if next > RecoveryLevels-1 {
		next = RecoveryLevels - 1
	}

	// limit≥0 限定可升级到的最高梯级
	if rec.Limit >= 0 && next > rec.Limit {
		st.mu.Unlock()
		return errors.Newf(errors.ErrAbortLevel, "梯级上限 %d, 原因: %s", rec.Limit, reason)
	}

	from := rec.Level
	rec.Level = next
	rec.Attempts[next]++

	// 顶级尝试耗尽：强制中止
	if next == RecoveryLevels-1 && rec.Attempts[next] >= r.attemptCap {
		rec.Limit = LimitForcedAbort
		operationID := st.operationID
		st.mu.Unlock()
		r.logTransition(operationID, from, next, reason)
		return errors.Newf(errors.ErrAbortForced, "梯级4尝试 %d 次", r.attemptCap)
	}

	operationID := st.operationID
	st.mu.Unlock()

	r.logTransition(operationID, from, next, reason)
	return nil
}

// Deescalate 某梯级成功后下降正好一级（不归零）
// 原动作将在更低的梯级重试，直到梯级0的行为成功
func (r *RecoveryController) Deescalate() {
	st := r.status
	st.mu.Lock()

	rec := &st.recovery
	if rec.Level == 0 {
		st.mu.Unlock()
		return
	}

	from := rec.Level
	rec.Level--
	rec.Attempts[rec.Level]++
	operationID := st.operationID
	st.mu.Unlock()

	r.logTransition(operationID, from, from-1, "level success")
}

// RestartFromZero 四级退避结束后从梯级0重新开始
func (r *RecoveryController) RestartFromZero() {
	st := r.status
	st.mu.Lock()

	rec := &st.recovery
	from := rec.Level
	rec.Level = 0
	rec.Attempts[0]++
	operationID := st.operationID
	st.mu.Unlock()

	r.logTransition(operationID, from, 0, "backoff elapsed")
}

// logTransition 仅在梯级发生转移时记录日志，避免重复消息
func (r *RecoveryController) logTransition(operationID string, from, to int, reason string) {
	st := r.status
	st.mu.Lock()
	if st.recovery.LastLoggedLevel == to {
		st.mu.Unlock()
		return
	}
	st.recovery.LastLoggedLevel = to
	st.mu.Unlock()

	logger.LogRecoveryTransition(operationID, from, to, reason)
	r.logger.Debug("recovery level changed",
		zap.Int("from", from),
		zap.Int("to", to),
		zap.String("reason", reason))
}
