package models

import (
	"time"

	"gorm.io/gorm"
)

// TransactionOutcome 事务结果
type TransactionOutcome string

const (
	OutcomeSuccess    TransactionOutcome = "SUCCESS"    // 应答 code=0
	OutcomeErrorCode  TransactionOutcome = "ERROR_CODE" // 设备上报错误码
	OutcomeTimeout    TransactionOutcome = "TIMEOUT"    // 超时未收到终止符
	OutcomeMalformed  TransactionOutcome = "MALFORMED"  // 本地解析失败
	OutcomeMismatched TransactionOutcome = "MISMATCHED" // 与期望应答不符
)

// TransactionLog 一次串口事务的持久化记录
// 引擎内存中的历史是权威数据，本表仅用于事后追溯
type TransactionLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联信息
	OperationID string `gorm:"type:varchar(64);index;not null" json:"operation_id"` // 一次操作的UUID
	Target      string `gorm:"type:varchar(10);index;not null" json:"target"`       // FW1 / FW2 / SB

	// 事务内容
	Sent     string             `gorm:"type:varchar(64);not null" json:"sent"` // 发送帧（不含CR）
	Received string             `gorm:"type:varchar(255)" json:"received"`     // 接收帧（不含CRLF），超时为空
	Outcome  TransactionOutcome `gorm:"type:varchar(20);index;not null" json:"outcome"`
	Code     int                `gorm:"default:0" json:"code"` // 设备应答码 (0/1/2/99)

	// 恢复上下文
	RecoveryLevel int `gorm:"index;default:0" json:"recovery_level"` // 发送时所处的恢复梯级

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration"` // 等待应答时长（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）
}

// TableName 指定表名
func (TransactionLog) TableName() string {
	return "transaction_logs"
}

// BeforeCreate 创建前的钩子
func (t *TransactionLog) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().UnixMilli()
	}
	return nil
}

// TransactionLogQuery 查询参数
type TransactionLogQuery struct {
	OperationID string             `json:"operation_id,omitempty"`
	Target      string             `json:"target,omitempty"`
	Outcome     TransactionOutcome `json:"outcome,omitempty"`
	StartTime   *time.Time         `json:"start_time,omitempty"`
	EndTime     *time.Time         `json:"end_time,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Offset      int                `json:"offset,omitempty"`
}
