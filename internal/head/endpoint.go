package head

import (
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/logger"
	"go.uber.org/zap"
)

// Endpoint 字节流端点抽象
// 真实RS-232端点与测试用内存端点在构造时选定，而不是靠哨兵值区分
type Endpoint interface {
	// Read 非阻塞读取：无数据时在读超时粒度内返回 n=0
	Read(p []byte) (int, error)
	// Write 发送字节，受写超时约束
	Write(p []byte) (int, error)
	// Flush 丢弃链路上已缓冲的输入（上次超时事务的残留数据）
	Flush() error
	// Reopen 关闭并重新打开端点，仅由三级恢复调用
	Reopen() error
	// Close 关闭端点
	Close() error
	// Name 端点描述（日志用）
	Name() string
}

// SerialEndpoint RS-232串口端点
// 线路参数固定：8数据位、无校验、1停止位、无流控；
// 读超时即轮询粒度，写超时防止写入永久阻塞
type SerialEndpoint struct {
	mu           sync.Mutex
	portName     string
	baudRate     int
	readTimeout  time.Duration
	writeTimeout time.Duration
	port         *serial.Port
	logger       *zap.Logger
}

// NewSerialEndpoint 打开串口端点
func NewSerialEndpoint(portName string, baudRate int, readTimeout, writeTimeout time.Duration) (*SerialEndpoint, error) {
	e := &SerialEndpoint{
		portName:     portName,
		baudRate:     baudRate,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger.GetModuleLogger("serial"),
	}
	if err := e.open(); err != nil {
		return nil, err
	}
	return e, nil
}

// open 按固定线路参数打开串口
func (e *SerialEndpoint) open() error {
	cfg := &serial.Config{
		Name:        e.portName,
		Baud:        e.baudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: e.readTimeout,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		e.logger.Error("打开串口失败",
			zap.String("port", e.portName),
			zap.Error(err))
		return errors.Wrapf(err, errors.ErrSerialPortOpen, "端口 %s", e.portName)
	}

	e.port = port
	e.logger.Info("串口已打开",
		zap.String("port", e.portName),
		zap.Int("baud_rate", e.baudRate))
	return nil
}

// Read 读取可用字节，读超时到期返回 n=0
func (e *SerialEndpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	port := e.port
	e.mu.Unlock()

	if port == nil {
		return 0, errors.New(errors.ErrLinkLost, "串口未打开")
	}
	return port.Read(p)
}

// Write 带写超时的发送
func (e *SerialEndpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	port := e.port
	e.mu.Unlock()

	if port == nil {
		return 0, errors.New(errors.ErrLinkLost, "串口未打开")
	}

	type writeResult struct {
		n   int
		err error
	}
	done := make(chan writeResult, 1)

	go func() {
		n, err := port.Write(p)
		done <- writeResult{n, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return res.n, errors.Wrap(res.err, errors.ErrSerialPortWrite)
		}
		return res.n, nil
	case <-time.After(e.writeTimeout):
		return 0, errors.Newf(errors.ErrSerialPortWrite, "写超时 %v", e.writeTimeout)
	}
}

// Flush 丢弃输入缓冲
func (e *SerialEndpoint) Flush() error {
	e.mu.Lock()
	port := e.port
	e.mu.Unlock()

	if port == nil {
		return errors.New(errors.ErrLinkLost, "串口未打开")
	}
	return port.Flush()
}

// Reopen 关闭并重新打开串口
func (e *SerialEndpoint) Reopen() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.port != nil {
		if err := e.port.Close(); err != nil {
			e.logger.Warn("关闭串口失败", zap.Error(err))
		}
		e.port = nil
	}

	e.logger.Info("重新打开串口", zap.String("port", e.portName))
	return e.open()
}

// Close 关闭串口
func (e *SerialEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.port == nil {
		return nil
	}
	err := e.port.Close()
	e.port = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrSerialPortRead, "关闭串口")
	}
	e.logger.Info("串口已关闭", zap.String("port", e.portName))
	return nil
}

// Name 端点描述
func (e *SerialEndpoint) Name() string {
	return e.portName
}
