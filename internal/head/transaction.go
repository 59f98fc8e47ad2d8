package head

import (
	"bytes"
	"time"

	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/logger"
	"go.uber.org/zap"
)

// Recorder 事务记录观察者（如数据库持久化）
// 记录失败绝不影响操作本身
type Recorder interface {
	Record(operationID string, target Target, rec TransactionRecord)
}

// 轮询粒度：紧凑的协作式轮询，不做长于此的休眠
const defaultPollInterval = 10 * time.Millisecond

// Transactor 执行单次请求/应答循环
// 这是唯一允许接触物理字节流的组件，其余组件只操作 TransactionStatus
type Transactor struct {
	endpoint     Endpoint
	status       *TransactionStatus
	recorder     Recorder
	identity     string
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewTransactor 创建事务执行器
func NewTransactor(endpoint Endpoint, status *TransactionStatus, identity string, recorder Recorder) *Transactor {
	return &Transactor{
		endpoint:     endpoint,
		status:       status,
		recorder:     recorder,
		identity:     identity,
		pollInterval: defaultPollInterval,
		logger:       logger.GetModuleLogger("serial"),
	}
}

// Transact 执行一次完整的发送/等待应答循环
// 返回分类结果和解码应答；用户中止时返回 AbortError
func (t *Transactor) Transact(cmd string, exp ExpectedAnswer) (Outcome, Answer, error) {
	st := t.status
	st.setLowLevel(LowBusy)
	st.setLastCommand(cmd, exp)

	// 丢弃上次超时事务残留的字节
	if err := t.endpoint.Flush(); err != nil {
		t.logger.Warn("清空输入缓冲失败", zap.Error(err))
	}

	level := st.RecoveryLevel()
	start := time.Now()

	// 发送帧：指令 + 单个CR终止符
	if _, err := t.endpoint.Write([]byte(cmd + "\r")); err != nil {
		st.setLowLevel(LowLinkError)
		rec := TransactionRecord{
			Sent:      cmd,
			Timestamp: start,
			Outcome:   OutcomeTimeout,
			Code:      CodeParse,
			Level:     level,
			Duration:  time.Since(start),
		}
		t.record(rec)
		logger.LogSerialCommand(cmd, "", false)
		return OutcomeTimeout, Answer{}, errors.Wrap(err, errors.ErrSerialPortWrite)
	}

	// 紧凑轮询直到出现CRLF终止符或低层超时
	line, got, err := t.poll()
	if err != nil {
		// 用户中止：在飞的写入已经完成，不再等待应答
		return OutcomeTimeout, Answer{}, err
	}

	elapsed := time.Since(start)

	if !got {
		st.setLowLevel(LowLost)
		rec := TransactionRecord{
			Sent:      cmd,
			Timestamp: start,
			Outcome:   OutcomeTimeout,
			Code:      CodeParse,
			Level:     level,
			Duration:  elapsed,
		}
		t.record(rec)
		logger.LogSerialCommand(cmd, "", false)
		return OutcomeTimeout, Answer{}, nil
	}

	st.setLowLevel(LowAnswerReceived)

	ans, decodeErr := Decode(line, t.identity)
	var outcome Outcome
	if decodeErr != nil {
		outcome = OutcomeMalformed
	} else {
		outcome = Validate(ans, exp)
	}

	rec := TransactionRecord{
		Sent:      cmd,
		Received:  string(bytes.TrimRight(line, "\r\n")),
		Timestamp: start,
		Outcome:   outcome,
		Code:      ans.Code,
		Level:     level,
		Duration:  elapsed,
	}
	t.record(rec)
	logger.LogSerialCommand(cmd, rec.Received, outcome == OutcomeSuccess)

	return outcome, ans, nil
}

// poll 轮询链路累积字节，直到观察到CRLF终止符或超时
// 每个迭代开头检查用户中止标志
func (t *Transactor) poll() ([]byte, bool, error) {
	deadline := time.Now().Add(t.status.LowLevelTimeout())
	buf := make([]byte, 0, 64)
	tmp := make([]byte, 64)

	for {
		if t.status.UserAborted() {
			return nil, false, errors.New(errors.ErrAbortUser)
		}

		n, err := t.endpoint.Read(tmp)
		if err != nil {
			t.logger.Warn("串口读取失败", zap.Error(err))
		}
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\r\n")); idx >= 0 {
				// 在第一个CRLF处截断，之后的字节留给Flush处理
				return buf[:idx+2], true, nil
			}
		}

		if time.Now().After(deadline) {
			return buf, false, nil
		}

		time.Sleep(t.pollInterval)
	}
}

// record 追加历史并通知观察者
func (t *Transactor) record(rec TransactionRecord) {
	st := t.status
	st.appendRecord(rec)

	if t.recorder != nil {
		operationID, target := st.operationContext()
		t.recorder.Record(operationID, target, rec)
	}
}
