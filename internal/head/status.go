package head

import (
	"sync"
	"time"
)

// TransactionStatus 当前动作的可变状态
// 每条链路初始化时创建一次，每次操作开始时复位为中性值，
// 链路打开期间不销毁；只由事务执行器和恢复控制器修改
type TransactionStatus struct {
	mu sync.RWMutex

	lowLevel  LowLevelState
	highLevel HighLevelState

	operationID     string
	currentAction   *Action
	lastCommandSent string
	expected        ExpectedAnswer

	highLevelTimeout time.Duration
	lowLevelTimeout  time.Duration

	// 追加写入的事务历史，运行期间不会重排或删减
	history []TransactionRecord

	unexpectedAnswerCount int
	unexpectedAnswerLimit int

	recovery RecoveryState

	finalMessage string
}

// NewTransactionStatus 创建链路状态
func NewTransactionStatus(lowTimeout, highTimeout time.Duration, unexpectedLimit int) *TransactionStatus {
	return &TransactionStatus{
		lowLevel:              LowFreeLowLevelOnly,
		highLevel:             HighNone,
		lowLevelTimeout:       lowTimeout,
		highLevelTimeout:      highTimeout,
		unexpectedAnswerCount: 0,
		unexpectedAnswerLimit: unexpectedLimit,
		recovery: RecoveryState{
			Limit:           LimitAuto,
			LastLoggedLevel: 0,
		},
		finalMessage: "OK",
	}
}

// BeginOperation 复位为中性值并登记新动作
// 用户中止标志 (limit=-2) 跨操作保留，必须显式清除
func (s *TransactionStatus) BeginOperation(a Action, operationID, cmd string, exp ExpectedAnswer, budget time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lowLevel = LowFreeLowLevelOnly
	s.highLevel = HighInitiate
	s.operationID = operationID
	action := a
	s.currentAction = &action
	s.lastCommandSent = cmd
	s.expected = exp
	if budget > 0 {
		s.highLevelTimeout = budget
	}
	s.history = s.history[:0]
	s.unexpectedAnswerCount = 0
	s.finalMessage = "OK"

	limit := s.recovery.Limit
	if limit != LimitUserAbort && limit < 0 {
		limit = LimitAuto
	}
	s.recovery = RecoveryState{
		Limit:           limit,
		LastLoggedLevel: 0,
		Description:     a.Describe(),
	}
	s.recovery.Attempts[0] = 1 // 进入梯级0
}

// Finish 结束操作并落入终态
// keepBusy 为调用方链式约定：下一操作免去重新占用链路
func (s *TransactionStatus) Finish(success bool, message string, keepBusy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalMessage = message
	s.highLevel = HighNone
	switch {
	case keepBusy:
		s.lowLevel = LowBusy
	case success:
		s.lowLevel = LowFree
	default:
		// 失败保留 Lost/LinkError 供外部观察，其余情况归于 Lost
		if s.lowLevel != LowLinkError {
			s.lowLevel = LowLost
		}
	}
}

// Rest 高层操作完成后的休息态
func (s *TransactionStatus) Rest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowLevel = LowFreeLowLevelOnly
}

// setLowLevel 设置低层状态
func (s *TransactionStatus) setLowLevel(state LowLevelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowLevel = state
}

// setHighLevel 设置高层状态
func (s *TransactionStatus) setHighLevel(state HighLevelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highLevel = state
}

// setLastCommand 记录最近发送的指令
func (s *TransactionStatus) setLastCommand(cmd string, exp ExpectedAnswer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommandSent = cmd
	s.expected = exp
}

// appendRecord 追加一条事务记录（只增不改）
func (s *TransactionStatus) appendRecord(rec TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
}

// bumpMismatch 非期望应答计数+1，返回是否超出预算
func (s *TransactionStatus) bumpMismatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unexpectedAnswerCount++
	return s.unexpectedAnswerCount > s.unexpectedAnswerLimit
}

// resetMismatch 预算耗尽触发升级后重新计数，保证只触发一次
func (s *TransactionStatus) resetMismatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unexpectedAnswerCount = 0
}

// Free 链路是否空闲（可开始新操作）
func (s *TransactionStatus) Free() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowLevel == LowFree || s.lowLevel == LowFreeLowLevelOnly
}

// Abort 设置用户中止标志，在下一个轮询迭代生效
func (s *TransactionStatus) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery.Limit = LimitUserAbort
}

// ClearAbort 清除用户中止标志
func (s *TransactionStatus) ClearAbort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recovery.Limit == LimitUserAbort {
		s.recovery.Limit = LimitAuto
	}
}

// SetRecoveryLimit 设置恢复梯级上限（n≥0）或恢复自动模式（-1）
func (s *TransactionStatus) SetRecoveryLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery.Limit = limit
}

// UserAborted 用户中止标志是否已置位
func (s *TransactionStatus) UserAborted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery.Limit == LimitUserAbort
}

// RecoveryLevel 当前恢复梯级
func (s *TransactionStatus) RecoveryLevel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery.Level
}

// attemptsAt 某梯级的进入次数
func (s *TransactionStatus) attemptsAt(level int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if level < 0 || level >= RecoveryLevels {
		return 0
	}
	return s.recovery.Attempts[level]
}

// FinalMessage 最终消息（"OK"或可读错误）
func (s *TransactionStatus) FinalMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalMessage
}

// HistoryLen 历史长度
func (s *TransactionStatus) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// LowLevelTimeout 单次事务超时
func (s *TransactionStatus) LowLevelTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowLevelTimeout
}

// HighLevelTimeout 操作超时预算（四级恢复的退避时长）
func (s *TransactionStatus) HighLevelTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highLevelTimeout
}

// operationContext 当前操作ID与目标
func (s *TransactionStatus) operationContext() (string, Target) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t Target
	if s.currentAction != nil {
		t = s.currentAction.Target
	}
	return s.operationID, t
}

// StatusSnapshot 供外部观察者使用的状态副本
type StatusSnapshot struct {
	OperationID           string              `json:"operation_id"`
	LowLevel              string              `json:"low_level"`
	HighLevel             string              `json:"high_level"`
	CurrentAction         string              `json:"current_action"`
	LastCommandSent       string              `json:"last_command_sent"`
	HighLevelTimeout      time.Duration       `json:"high_level_timeout"`
	LowLevelTimeout       time.Duration       `json:"low_level_timeout"`
	History               []TransactionRecord `json:"history"`
	UnexpectedAnswerCount int                 `json:"unexpected_answer_count"`
	UnexpectedAnswerLimit int                 `json:"unexpected_answer_limit"`
	Recovery              RecoveryState       `json:"recovery"`
	FinalMessage          string              `json:"final_message"`
}

// Snapshot 在锁内复制当前状态
func (s *TransactionStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		OperationID:           s.operationID,
		LowLevel:              s.lowLevel.String(),
		HighLevel:             s.highLevel.String(),
		LastCommandSent:       s.lastCommandSent,
		HighLevelTimeout:      s.highLevelTimeout,
		LowLevelTimeout:       s.lowLevelTimeout,
		UnexpectedAnswerCount: s.unexpectedAnswerCount,
		UnexpectedAnswerLimit: s.unexpectedAnswerLimit,
		Recovery:              s.recovery,
		FinalMessage:          s.finalMessage,
	}
	if s.currentAction != nil {
		snap.CurrentAction = s.currentAction.Describe()
	}
	snap.History = make([]TransactionRecord, len(s.history))
	copy(snap.History, s.history)
	return snap
}
