package head

import (
	"fmt"
	"time"
)

// Target 可控单元：滤光轮1、滤光轮2或遮光带
type Target string

const (
	TargetFW1        Target = "FW1"
	TargetFW2        Target = "FW2"
	TargetShadowband Target = "SB"
)

// Tag 返回线路协议中的2字符目标标签
func (t Target) Tag() string {
	switch t {
	case TargetFW1:
		return "F1"
	case TargetFW2:
		return "F2"
	case TargetShadowband:
		return "SB"
	}
	return ""
}

// Valid 判断目标是否已知
func (t Target) Valid() bool {
	return t.Tag() != ""
}

// targetByTag 根据线路标签反查目标
func targetByTag(tag string) (Target, bool) {
	switch tag {
	case "F1":
		return TargetFW1, true
	case "F2":
		return TargetFW2, true
	case "SB":
		return TargetShadowband, true
	}
	return "", false
}

// CommandKind 指令类型
type CommandKind int

const (
	CmdMove           CommandKind = iota // 移动到指定位置
	CmdReset                             // 复位
	CmdShadowbandStep                    // 遮光带步进
)

// 位置与步数约束
const (
	MinPosition = 1
	MaxPosition = 9
	MaxStep     = 1000
)

// Action 一次工作单元，由调用方创建，下发后不可变
type Action struct {
	Target   Target
	Kind     CommandKind
	Position int // CmdMove: 1..9
	Steps    int // CmdShadowbandStep: -1000..1000
}

// MoveAction 构造移动指令
func MoveAction(target Target, position int) Action {
	return Action{Target: target, Kind: CmdMove, Position: position}
}

// ResetAction 构造复位指令
func ResetAction(target Target) Action {
	return Action{Target: target, Kind: CmdReset}
}

// ShadowbandAction 构造遮光带步进指令
func ShadowbandAction(steps int) Action {
	return Action{Target: TargetShadowband, Kind: CmdShadowbandStep, Steps: steps}
}

// Describe 生成人类可读的动作描述
func (a Action) Describe() string {
	switch a.Kind {
	case CmdMove:
		return fmt.Sprintf("%s move to %d", a.Target, a.Position)
	case CmdReset:
		return fmt.Sprintf("%s reset", a.Target)
	case CmdShadowbandStep:
		return fmt.Sprintf("%s step %+d", a.Target, a.Steps)
	}
	return fmt.Sprintf("%s unknown", a.Target)
}

// LowLevelState 单次串口事务的状态
type LowLevelState int

const (
	LowLost             LowLevelState = iota // 超时未应答
	LowLinkError                             // 链路错误（写失败等）
	LowFree                                  // 空闲，可开始新操作
	LowFreeLowLevelOnly                      // 高层操作完成后的休息态，可做纯底层诊断
	LowBusy                                  // 事务进行中
	LowAnswerReceived                        // 已收到应答
	LowWaiting                               // 四级恢复的定时等待
)

// String 状态名
func (s LowLevelState) String() string {
	switch s {
	case LowLost:
		return "Lost"
	case LowLinkError:
		return "LinkError"
	case LowFree:
		return "Free"
	case LowFreeLowLevelOnly:
		return "FreeLowLevelOnly"
	case LowBusy:
		return "Busy"
	case LowAnswerReceived:
		return "AnswerReceived"
	case LowWaiting:
		return "Waiting"
	}
	return "Unknown"
}

// HighLevelState 整个逻辑操作的状态（恢复期间可能跨越多次事务）
type HighLevelState int

const (
	HighNone       HighLevelState = iota // 无操作
	HighInitiate                         // 操作已建立尚未发送
	HighInProgress                       // 操作进行中
	HighWaiting                          // 四级恢复的退避等待
)

// String 状态名
func (s HighLevelState) String() string {
	switch s {
	case HighNone:
		return "None"
	case HighInitiate:
		return "Initiate"
	case HighInProgress:
		return "InProgress"
	case HighWaiting:
		return "Waiting"
	}
	return "Unknown"
}

// Outcome 一次事务的分类结果
type Outcome int

const (
	OutcomeSuccess    Outcome = iota // code=0 且目标匹配
	OutcomeErrorCode                 // 目标匹配但 code≠0 且在期望集合内
	OutcomeTimeout                   // 低层超时未见终止符
	OutcomeMalformed                 // 无法解析的应答
	OutcomeMismatched                // 与本次动作的期望应答不符
)

// String 结果名
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeErrorCode:
		return "ErrorCode"
	case OutcomeTimeout:
		return "Timeout"
	case OutcomeMalformed:
		return "Malformed"
	case OutcomeMismatched:
		return "Mismatched"
	}
	return "Unknown"
}

// TransactionRecord 一次事务的不可变记录，追加进历史后不再修改
type TransactionRecord struct {
	Sent      string        `json:"sent"`     // 发送帧（不含CR）
	Received  string        `json:"received"` // 接收帧（不含CRLF），未应答为空
	Timestamp time.Time     `json:"timestamp"`
	Outcome   Outcome       `json:"outcome"`
	Code      int           `json:"code"`     // 设备应答码，超时/解析失败时为99
	Level     int           `json:"level"`    // 发送时所处的恢复梯级
	Duration  time.Duration `json:"duration"` // 等待应答耗时
}

// 恢复梯级数量与limit哨兵值
const (
	RecoveryLevels = 5 // 梯级 0..4

	LimitAuto        = -1 // 自动升级，不设上限
	LimitUserAbort   = -2 // 用户中止，优先于自动升级
	LimitForcedAbort = -3 // 顶级尝试耗尽后的强制中止
)

// RecoveryState 恢复梯级状态
// Level 只在失败时上升，只在梯级≥1的成功后下降一级
type RecoveryState struct {
	Level           int                 `json:"level"`             // 当前梯级 0..4
	Limit           int                 `json:"limit"`             // -1自动 / n≥0上限 / -2用户中止 / -3强制中止
	LastLoggedLevel int                 `json:"last_logged_level"` // 上次记入日志的梯级，避免重复日志
	Description     string              `json:"description"`       // 当前动作描述
	Attempts        [RecoveryLevels]int `json:"attempts"`          // 每个梯级的进入次数
}

// 线路协议错误码
const (
	CodeOK       = 0  // 成功
	CodeComm     = 1  // 通信错误
	CodeHardware = 2  // 硬件故障/堵转
	CodeParse    = 99 // 本地解析失败，设备不会发送
)
