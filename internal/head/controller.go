package head

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/spectro-head/internal/config"
	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/logger"
	"go.uber.org/zap"
)

// Options 控制器参数
type Options struct {
	Identity              string        // 设备身份字符串
	IdentityCommand       string        // 身份查询指令
	Wheels                []Target      // 已安装的滤光轮
	Shadowband            bool          // 是否安装遮光带
	LowLevelTimeout       time.Duration // 单次事务等待应答超时
	HighLevelTimeout      time.Duration // 操作默认超时预算（四级退避时长）
	OperationTimeout      time.Duration // 整个操作的硬性截止
	RecoveryAttemptCap    int           // 每个恢复梯级的进入次数上限
	UnexpectedAnswerLimit int           // 非期望应答预算
}

// OptionsFromConfig 从配置构建控制器参数
func OptionsFromConfig(cfg *config.HeadConfig) Options {
	opts := Options{
		Identity:              cfg.Identity,
		IdentityCommand:       cfg.IdentityCommand,
		Shadowband:            cfg.Shadowband,
		LowLevelTimeout:       cfg.LowLevelTimeout,
		HighLevelTimeout:      cfg.HighLevelTimeout,
		OperationTimeout:      cfg.OperationTimeout,
		RecoveryAttemptCap:    cfg.RecoveryAttemptCap,
		UnexpectedAnswerLimit: cfg.UnexpectedAnswerLimit,
	}
	for _, w := range cfg.Wheels {
		opts.Wheels = append(opts.Wheels, Target(w))
	}
	return opts
}

// withDefaults 填充零值参数
func (o Options) withDefaults() Options {
	if o.IdentityCommand == "" {
		o.IdentityCommand = "?i"
	}
	if o.LowLevelTimeout <= 0 {
		o.LowLevelTimeout = 3 * time.Second
	}
	if o.HighLevelTimeout <= 0 {
		o.HighLevelTimeout = 5 * time.Second
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 120 * time.Second
	}
	if o.RecoveryAttemptCap <= 0 {
		o.RecoveryAttemptCap = 5
	}
	if o.UnexpectedAnswerLimit <= 0 {
		o.UnexpectedAnswerLimit = 5
	}
	return o
}

// CompletionFunc 操作完成通知（如WebSocket推送）
type CompletionFunc func(StatusSnapshot)

// HeadController 滤光轮操作编排器，对外的公共入口
// 链路是独占资源：互斥锁保证同一链路上的操作严格串行
type HeadController struct {
	mu         sync.Mutex
	endpoint   Endpoint
	status     *TransactionStatus
	transactor *Transactor
	recovery   *RecoveryController
	opts       Options
	wheels     map[Target]bool
	filters    *FilterTable
	onComplete CompletionFunc
	logger     *zap.Logger
}

// NewController 创建控制器
func NewController(endpoint Endpoint, opts Options, recorder Recorder) *HeadController {
	opts = opts.withDefaults()

	status := NewTransactionStatus(opts.LowLevelTimeout, opts.HighLevelTimeout, opts.UnexpectedAnswerLimit)
	wheels := make(map[Target]bool, len(opts.Wheels))
	for _, w := range opts.Wheels {
		wheels[w] = true
	}

	return &HeadController{
		endpoint:   endpoint,
		status:     status,
		transactor: NewTransactor(endpoint, status, opts.Identity, recorder),
		recovery:   NewRecoveryController(status, opts.RecoveryAttemptCap),
		opts:       opts,
		wheels:     wheels,
		logger:     logger.GetModuleLogger("head"),
	}
}

// SetFilterTable 注入滤光片名称表（仅显示用）
func (c *HeadController) SetFilterTable(t *FilterTable) {
	c.filters = t
}

// FilterTable 当前名称表
func (c *HeadController) FilterTable() *FilterTable {
	return c.filters
}

// SetCompletionFunc 注册操作完成回调
func (c *HeadController) SetCompletionFunc(fn CompletionFunc) {
	c.onComplete = fn
}

// Execute 以默认超时预算执行一次动作
func (c *HeadController) Execute(a Action) (bool, string) {
	return c.ExecuteWithBudget(a, c.opts.HighLevelTimeout)
}

// ExecuteWithBudget 执行一次动作直到终态或截止时间
// 返回 (true,"OK") 或 (false,最终错误消息)；配置错误不做任何I/O直接返回
func (c *HeadController) ExecuteWithBudget(a Action, budget time.Duration) (bool, string) {
	if err := c.validateAction(a); err != nil {
		return false, err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeLocked(a, budget, false)
}

// ExecuteChained 链式执行一组动作
// 非末尾动作完成后链路保持Busy，下一动作免去重新占用；
// 仍然严格串行，首个失败即终止
func (c *HeadController) ExecuteChained(actions []Action, budget time.Duration) (bool, string) {
	if len(actions) == 0 {
		return false, errors.New(errors.ErrInvalidParam, "动作序列为空").Error()
	}
	for _, a := range actions {
		if err := c.validateAction(a); err != nil {
			return false, err.Error()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, a := range actions {
		keepBusy := i < len(actions)-1
		ok, msg := c.executeLocked(a, budget, keepBusy)
		if !ok {
			return false, msg
		}
	}
	return true, "OK"
}

// executeLocked 在持锁状态下执行一次完整操作
func (c *HeadController) executeLocked(a Action, budget time.Duration, keepBusy bool) (bool, string) {
	cmd, err := Encode(a)
	if err != nil {
		return false, err.Error()
	}

	operationID := uuid.New().String()
	exp := ExpectedDevice(a.Target)
	st := c.status

	st.BeginOperation(a, operationID, cmd, exp, budget)
	start := time.Now()

	success, msg := c.runLadder(a, cmd, exp)
	st.Finish(success, msg, keepBusy && success)

	snap := st.Snapshot()
	logger.LogOperationResult(operationID, string(a.Target), success, msg, len(snap.History), time.Since(start))
	if c.onComplete != nil {
		c.onComplete(snap)
	}
	return success, msg
}

// runLadder 驱动事务执行器与恢复控制器直到终态
func (c *HeadController) runLadder(a Action, cmd string, exp ExpectedAnswer) (bool, string) {
	st := c.status
	deadline := time.Now().Add(c.opts.OperationTimeout)
	st.setHighLevel(HighInProgress)

	for {
		// 中止与截止检查先于任何梯级动作
		if st.UserAborted() {
			return false, errors.New(errors.ErrAbortUser).Error()
		}
		if time.Now().After(deadline) {
			return false, errors.Newf(errors.ErrTimeout, "操作截止 %v 已过", c.opts.OperationTimeout).Error()
		}

		level := st.RecoveryLevel()

		// 四级：定时退避后从梯级0重新执行整个操作
		if level == RecoveryLevels-1 {
			if err := c.backoff(deadline); err != nil {
				return false, err.Error()
			}
			c.recovery.RestartFromZero()
			continue
		}

		// 低梯级尝试次数耗尽时直接升级，避免在某一级上打转
		if st.attemptsAt(level) > c.recovery.AttemptCap() {
			if err := c.recovery.Escalate("level attempt cap reached"); err != nil {
				return false, err.Error()
			}
			continue
		}

		ok, originalOK, reason := c.attemptAtLevel(level, a, cmd, exp)
		if ok {
			if level == 0 {
				return true, "OK"
			}
			c.recovery.Deescalate()
			// 梯级1的成功已包含原指令成功，降回0即为终态
			if originalOK && st.RecoveryLevel() == 0 {
				return true, "OK"
			}
			continue
		}

		if err := c.recovery.Escalate(reason); err != nil {
			return false, err.Error()
		}
	}
}

// attemptAtLevel 执行当前梯级规定的动作
// originalOK 表示本级成功中已包含原指令的成功应答
func (c *HeadController) attemptAtLevel(level int, a Action, cmd string, exp ExpectedAnswer) (ok, originalOK bool, reason string) {
	switch level {
	case 0:
		// 直接发送原指令
		outcome, why := c.sendValidated(cmd, exp)
		return outcome == OutcomeSuccess, outcome == OutcomeSuccess, why

	case 1:
		// 先复位同一目标，再重发原指令
		resetCmd, err := Encode(ResetAction(a.Target))
		if err != nil {
			return false, false, err.Error()
		}
		if outcome, why := c.sendValidated(resetCmd, ExpectedDevice(a.Target)); outcome != OutcomeSuccess {
			return false, false, "复位失败: " + why
		}
		outcome, why := c.sendValidated(cmd, exp)
		return outcome == OutcomeSuccess, outcome == OutcomeSuccess, why

	case 2:
		// 身份查询，确认后降回梯级1重试原指令
		outcome, why := c.sendValidated(c.opts.IdentityCommand, ExpectedIdentity(c.opts.Identity))
		if outcome != OutcomeSuccess {
			return false, false, "身份校验失败: " + why
		}
		return true, false, ""

	case 3:
		// 关闭并重开串口端点
		if err := c.endpoint.Reopen(); err != nil {
			c.status.setLowLevel(LowLinkError)
			return false, false, err.Error()
		}
		return true, false, ""
	}
	return false, false, "未知梯级"
}

// sendValidated 发送指令并消化非期望应答预算
// Mismatched 在预算内重试同一发送/轮询循环，超出预算按硬失败升级（只触发一次）
func (c *HeadController) sendValidated(cmd string, exp ExpectedAnswer) (Outcome, string) {
	st := c.status

	for {
		outcome, ans, err := c.transactor.Transact(cmd, exp)
		if err != nil {
			return outcome, err.Error()
		}

		switch outcome {
		case OutcomeSuccess:
			return OutcomeSuccess, ""
		case OutcomeMismatched:
			if st.bumpMismatch() {
				st.resetMismatch()
				return OutcomeMismatched, errors.New(errors.ErrProtocolMismatch, "非期望应答预算耗尽").Error()
			}
			// 预算未耗尽：链路保持Busy，重试同一循环
			continue
		case OutcomeErrorCode:
			return outcome, CodeMessage(ans.Code)
		case OutcomeMalformed:
			return outcome, CodeMessage(CodeParse)
		default:
			return outcome, errors.New(errors.ErrSerialTimeout).Error()
		}
	}
}

// backoff 四级恢复的定时退避，10ms粒度检查中止与截止
func (c *HeadController) backoff(deadline time.Time) error {
	st := c.status
	st.setHighLevel(HighWaiting)
	st.setLowLevel(LowWaiting)

	c.logger.Warn("进入四级退避",
		zap.Duration("wait", st.HighLevelTimeout()))

	until := time.Now().Add(st.HighLevelTimeout())
	for time.Now().Before(until) {
		if st.UserAborted() {
			return errors.New(errors.ErrAbortUser)
		}
		if time.Now().After(deadline) {
			return errors.Newf(errors.ErrTimeout, "操作截止 %v 已过", c.opts.OperationTimeout)
		}
		time.Sleep(defaultPollInterval)
	}

	st.setHighLevel(HighInProgress)
	return nil
}

// validateAction 配置级校验，任何失败都在I/O之前返回且不进入恢复
func (c *HeadController) validateAction(a Action) *errors.AppError {
	switch a.Kind {
	case CmdMove, CmdReset:
		if a.Target == TargetShadowband {
			if a.Kind == CmdMove {
				return errors.New(errors.ErrInvalidTarget, "遮光带不支持位置指令")
			}
			if !c.opts.Shadowband {
				return errors.New(errors.ErrInvalidTarget, "遮光带未安装")
			}
			return nil
		}
		if !a.Target.Valid() {
			return errors.Newf(errors.ErrInvalidTarget, "目标: %q", string(a.Target))
		}
		if !c.wheels[a.Target] {
			return errors.Newf(errors.ErrWheelAbsent, "目标: %s", a.Target)
		}
		if a.Kind == CmdMove && (a.Position < MinPosition || a.Position > MaxPosition) {
			return errors.Newf(errors.ErrInvalidPos, "位置: %d", a.Position)
		}
	case CmdShadowbandStep:
		if !c.opts.Shadowband {
			return errors.New(errors.ErrInvalidTarget, "遮光带未安装")
		}
		if a.Steps < -MaxStep || a.Steps > MaxStep {
			return errors.Newf(errors.ErrInvalidStep, "步数: %d", a.Steps)
		}
	default:
		return errors.Newf(errors.ErrInvalidParam, "未知指令类型: %d", a.Kind)
	}
	return nil
}

// VerifyIdentity 纯底层身份诊断，不触碰高层记账
func (c *HeadController) VerifyIdentity() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	outcome, _, err := c.transactor.Transact(c.opts.IdentityCommand, ExpectedIdentity(c.opts.Identity))
	c.status.Rest()
	if err != nil {
		return err
	}
	if outcome != OutcomeSuccess {
		return errors.Newf(errors.ErrIdentityCheck, "期望身份: %q", c.opts.Identity)
	}
	c.logger.Info("设备身份确认", zap.String("identity", c.opts.Identity))
	return nil
}

// Abort 设置用户中止标志（limit=-2），在下一个轮询迭代生效
func (c *HeadController) Abort() {
	c.status.Abort()
}

// ClearAbort 清除用户中止标志
func (c *HeadController) ClearAbort() {
	c.status.ClearAbort()
}

// SetRecoveryLimit 限定可升级到的最高梯级（-1恢复自动）
func (c *HeadController) SetRecoveryLimit(limit int) {
	c.status.SetRecoveryLimit(limit)
}

// Status 当前状态快照
func (c *HeadController) Status() StatusSnapshot {
	return c.status.Snapshot()
}

// Free 链路是否空闲
func (c *HeadController) Free() bool {
	return c.status.Free()
}

// Close 关闭底层端点
func (c *HeadController) Close() error {
	return c.endpoint.Close()
}
