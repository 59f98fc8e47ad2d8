package head

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// MockResponder 根据收到的指令决定模拟设备的应答
// 返回 ok=false 表示设备沉默（模拟超时）
type MockResponder func(cmd string) (reply string, ok bool)

// MockEndpoint 内存模拟端点（用于测试和 mock_mode 运行）
type MockEndpoint struct {
	mu        sync.Mutex
	responder MockResponder
	buf       bytes.Buffer // 待读取的应答字节
	sent      []string     // 收到的指令（已去除CR）
	delay     time.Duration
	flushes   int
	reopens   int
	reopenErr error
	writeErr  error
	closed    bool
}

// NewMockEndpoint 创建模拟端点
func NewMockEndpoint(responder MockResponder) *MockEndpoint {
	return &MockEndpoint{responder: responder}
}

// SetResponder 更换应答逻辑
func (m *MockEndpoint) SetResponder(responder MockResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = responder
}

// SetDelay 设置应答前的延迟（模拟慢设备）
func (m *MockEndpoint) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetWriteError 注入写错误
func (m *MockEndpoint) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReopenError 注入重开错误
func (m *MockEndpoint) SetReopenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reopenErr = err
}

// Sent 已收到的指令序列
func (m *MockEndpoint) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// Flushes Flush被调用的次数
func (m *MockEndpoint) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Reopens Reopen被调用的次数
func (m *MockEndpoint) Reopens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopens
}

// InjectInput 直接注入待读取字节（模拟残留/噪声数据）
func (m *MockEndpoint) InjectInput(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.WriteString(data)
}

// Read 读取已排队的应答字节，无数据时立即返回 n=0
func (m *MockEndpoint) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf.Len() == 0 {
		return 0, nil
	}
	return m.buf.Read(p)
}

// Write 记录指令并根据应答逻辑排队回复
func (m *MockEndpoint) Write(p []byte) (int, error) {
	m.mu.Lock()
	responder := m.responder
	delay := m.delay
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	cmd := strings.TrimRight(string(p), "\r")
	m.sent = append(m.sent, cmd)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if responder != nil {
		if reply, ok := responder(cmd); ok {
			m.mu.Lock()
			m.buf.WriteString(reply)
			m.mu.Unlock()
		}
	}
	return len(p), nil
}

// Flush 丢弃待读取数据
func (m *MockEndpoint) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	m.buf.Reset()
	return nil
}

// Reopen 模拟重开
func (m *MockEndpoint) Reopen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reopens++
	if m.reopenErr != nil {
		return m.reopenErr
	}
	m.buf.Reset()
	m.closed = false
	return nil
}

// Close 模拟关闭
func (m *MockEndpoint) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Name 端点描述
func (m *MockEndpoint) Name() string {
	return "mock"
}
