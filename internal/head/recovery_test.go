package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/spectro-head/internal/errors"
)

func newRecoveryUnderTest(attemptCap int) (*TransactionStatus, *RecoveryController) {
	st := newTestStatus()
	st.BeginOperation(MoveAction(TargetFW1, 5), "op-r", "F15", ExpectedDevice(TargetFW1), 0)
	return st, NewRecoveryController(st, attemptCap)
}

// TestEscalateStepByStep 梯级只在失败时逐级上升
func TestEscalateStepByStep(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)

	for want := 1; want <= 4; want++ {
		require.NoError(t, rc.Escalate("timeout"))
		assert.Equal(t, want, st.RecoveryLevel())
	}

	// 已在顶级：再失败停留在4，消耗顶级尝试
	require.NoError(t, rc.Escalate("timeout"))
	assert.Equal(t, 4, st.RecoveryLevel())
	assert.Equal(t, 2, st.attemptsAt(4))
}

// TestDeescalateExactlyOneLevel 成功只下降一级，不归零
func TestDeescalateExactlyOneLevel(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)

	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.Equal(t, 3, st.RecoveryLevel())

	rc.Deescalate()
	assert.Equal(t, 2, st.RecoveryLevel())
	rc.Deescalate()
	assert.Equal(t, 1, st.RecoveryLevel())
	rc.Deescalate()
	assert.Equal(t, 0, st.RecoveryLevel())

	// 已在0：不再下降
	rc.Deescalate()
	assert.Equal(t, 0, st.RecoveryLevel())
}

// TestUserLimitCapsEscalation limit=n 限定可升级到的最高梯级
func TestUserLimitCapsEscalation(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)
	st.SetRecoveryLimit(2)

	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.Equal(t, 2, st.RecoveryLevel())

	// 超出上限即终止，不尝试更高梯级
	err := rc.Escalate("timeout")
	require.Error(t, err)
	assert.Equal(t, errors.ErrAbortLevel, errors.GetCode(err))
	assert.Equal(t, 2, st.RecoveryLevel())
}

// TestUserLimitZero limit=0 只允许梯级0的普通重试
func TestUserLimitZero(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)
	st.SetRecoveryLimit(0)

	err := rc.Escalate("timeout")
	require.Error(t, err)
	assert.Equal(t, errors.ErrAbortLevel, errors.GetCode(err))
	assert.Equal(t, 0, st.RecoveryLevel())
}

// TestUserAbortPrecedence 用户中止优先于自动升级
func TestUserAbortPrecedence(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)
	st.Abort()

	err := rc.Escalate("timeout")
	require.Error(t, err)
	assert.Equal(t, errors.ErrAbortUser, errors.GetCode(err))
	assert.True(t, errors.IsAbort(err))
}

// TestForcedAbortAtTopLevelCap 顶级尝试耗尽触发强制中止
func TestForcedAbortAtTopLevelCap(t *testing.T) {
	st, rc := newRecoveryUnderTest(3)

	// 升到顶级
	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.NoError(t, rc.Escalate("timeout"))
	require.Equal(t, 4, st.RecoveryLevel())
	require.Equal(t, 1, st.attemptsAt(4))

	// 顶级反复失败直到计数达到上限
	require.NoError(t, rc.Escalate("timeout"))
	require.Equal(t, 2, st.attemptsAt(4))

	err := rc.Escalate("timeout")
	require.Error(t, err)
	assert.Equal(t, errors.ErrAbortForced, errors.GetCode(err))
	assert.Equal(t, LimitForcedAbort, st.Snapshot().Recovery.Limit)
}

// TestRestartFromZero 四级退避后从梯级0重新开始
func TestRestartFromZero(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)

	for i := 0; i < 4; i++ {
		require.NoError(t, rc.Escalate("timeout"))
	}
	require.Equal(t, 4, st.RecoveryLevel())

	rc.RestartFromZero()
	assert.Equal(t, 0, st.RecoveryLevel())
	assert.Equal(t, 2, st.attemptsAt(0)) // BeginOperation计1次，重启计1次
}

// TestAttemptCountersPerLevel 每个梯级独立计数
func TestAttemptCountersPerLevel(t *testing.T) {
	st, rc := newRecoveryUnderTest(5)

	require.NoError(t, rc.Escalate("timeout")) // 进入1
	require.NoError(t, rc.Escalate("timeout")) // 进入2
	rc.Deescalate()                            // 回到1
	require.NoError(t, rc.Escalate("timeout")) // 再进入2

	assert.Equal(t, 1, st.attemptsAt(0))
	assert.Equal(t, 2, st.attemptsAt(1))
	assert.Equal(t, 2, st.attemptsAt(2))
	assert.Equal(t, 0, st.attemptsAt(3))
}
