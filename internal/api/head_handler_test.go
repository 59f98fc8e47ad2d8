package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/spectro-head/internal/head"
	"github.com/wfunc/spectro-head/internal/repository"
	ws "github.com/wfunc/spectro-head/internal/websocket"
	"go.uber.org/zap"
)

const testIdentity = "MFR-7 SPECTRO HEAD"

func setupTestRouter(t *testing.T, responder head.MockResponder) (*Router, *head.MockEndpoint) {
	gin.SetMode(gin.TestMode)

	db := repository.SetupTestDB()
	t.Cleanup(func() { repository.CleanupTestDB(db) })

	mock := head.NewMockEndpoint(responder)
	opts := head.Options{
		Identity:              testIdentity,
		IdentityCommand:       "?i",
		Wheels:                []head.Target{head.TargetFW1, head.TargetFW2},
		Shadowband:            true,
		LowLevelTimeout:       30 * time.Millisecond,
		HighLevelTimeout:      40 * time.Millisecond,
		OperationTimeout:      5 * time.Second,
		RecoveryAttemptCap:    2,
		UnexpectedAnswerLimit: 2,
	}
	controller := head.NewController(mock, opts, nil)

	hub := ws.NewStatusHub()
	router := NewRouter(db, controller, hub, zap.NewNop())
	return router, mock
}

func okResponder(cmd string) (string, bool) {
	if cmd == "?i" {
		return testIdentity + "\r\n", true
	}
	if len(cmd) >= 2 {
		return cmd[:2] + "0\r\n", true
	}
	return "", false
}

func doJSON(router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, req)
	return w
}

// TestMoveEndpoint 移动滤光轮
func TestMoveEndpoint(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW1", "position": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "OK", resp.Message)
	assert.Len(t, resp.Status.History, 1)
	assert.Equal(t, []string{"F15"}, mock.Sent())
}

// TestMoveEndpointValidation 参数校验
func TestMoveEndpointValidation(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	// 未知滤光轮
	w := doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW9", "position": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 位置越界
	w = doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW1", "position": 99})
	assert.Equal(t, http.StatusBadGateway, w.Code) // 操作失败响应

	// 缺少字段
	w = doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 位置越界的请求未到达设备
	for _, sent := range mock.Sent() {
		assert.NotContains(t, sent, "99")
	}
}

// TestResetEndpoint 复位
func TestResetEndpoint(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/reset",
		map[string]interface{}{"target": "SB"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"SBr"}, mock.Sent())
}

// TestStepEndpoint 遮光带步进
func TestStepEndpoint(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/shadowband/step",
		map[string]interface{}{"steps": -120})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"SB-120"}, mock.Sent())
}

// TestStepEndpointZeroSteps 0步是协议允许的合法步数，不能被参数校验拦下
func TestStepEndpointZeroSteps(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/shadowband/step",
		map[string]interface{}{"steps": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"SB0"}, mock.Sent())

	// 缺少steps字段才是参数错误
	w = doJSON(router, http.MethodPost, "/api/v1/head/shadowband/step",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestStatusEndpoint 状态快照
func TestStatusEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t, okResponder)

	doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW2", "position": 3})

	w := doJSON(router, http.MethodGet, "/api/v1/head/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                `json:"success"`
		Data    head.StatusSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "F23", resp.Data.LastCommandSent)
	assert.Equal(t, "OK", resp.Data.FinalMessage)
}

// TestAbortEndpoints 中止标志的置位与清除
func TestAbortEndpoints(t *testing.T) {
	router, _ := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 中止标志置位后操作立即失败
	w = doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW1", "position": 1})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(router, http.MethodDelete, "/api/v1/head/abort", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/head/wheel/move",
		map[string]interface{}{"wheel": "FW1", "position": 1})
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestRecoveryLimitEndpoint 恢复梯级上限
func TestRecoveryLimitEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPut, "/api/v1/head/recovery/limit",
		map[string]interface{}{"limit": 2})
	require.Equal(t, http.StatusOK, w.Code)

	// limit=0 合法，表示禁止任何恢复升级
	w = doJSON(router, http.MethodPut, "/api/v1/head/recovery/limit",
		map[string]interface{}{"limit": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 超出梯级范围
	w = doJSON(router, http.MethodPut, "/api/v1/head/recovery/limit",
		map[string]interface{}{"limit": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 缺少limit字段不能被解释为0
	w = doJSON(router, http.MethodPut, "/api/v1/head/recovery/limit",
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestIdentityEndpoint 身份诊断
func TestIdentityEndpoint(t *testing.T) {
	router, mock := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodPost, "/api/v1/head/identity", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"?i"}, mock.Sent())

	mock.SetResponder(func(cmd string) (string, bool) {
		return "WRONG DEVICE\r\n", true
	})
	w = doJSON(router, http.MethodPost, "/api/v1/head/identity", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// TestHealthEndpoint 健康检查
func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t, okResponder)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
