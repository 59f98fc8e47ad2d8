package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/spectro-head/internal/errors"
)

const testIdentity = "MFR-7 SPECTRO HEAD"

// TestEncode 指令编码
func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		want    string
		wantErr errors.ErrorCode
	}{
		{
			name:   "滤光轮1移动到位置5",
			action: MoveAction(TargetFW1, 5),
			want:   "F15",
		},
		{
			name:   "滤光轮2移动到位置1",
			action: MoveAction(TargetFW2, 1),
			want:   "F21",
		},
		{
			name:   "滤光轮移动到位置9",
			action: MoveAction(TargetFW1, 9),
			want:   "F19",
		},
		{
			name:   "滤光轮1复位",
			action: ResetAction(TargetFW1),
			want:   "F1r",
		},
		{
			name:   "遮光带复位",
			action: ResetAction(TargetShadowband),
			want:   "SBr",
		},
		{
			name:   "遮光带正向步进",
			action: ShadowbandAction(120),
			want:   "SB120",
		},
		{
			name:   "遮光带负向步进",
			action: ShadowbandAction(-35),
			want:   "SB-35",
		},
		{
			name:   "遮光带步进边界",
			action: ShadowbandAction(1000),
			want:   "SB1000",
		},
		{
			name:    "位置0越界",
			action:  MoveAction(TargetFW1, 0),
			wantErr: errors.ErrInvalidPos,
		},
		{
			name:    "位置10越界",
			action:  MoveAction(TargetFW2, 10),
			wantErr: errors.ErrInvalidPos,
		},
		{
			name:    "步数越界",
			action:  ShadowbandAction(1001),
			wantErr: errors.ErrInvalidStep,
		},
		{
			name:    "未知目标",
			action:  Action{Target: Target("FW9"), Kind: CmdMove, Position: 3},
			wantErr: errors.ErrInvalidTarget,
		},
		{
			name:    "滤光轮不支持步进",
			action:  Action{Target: TargetFW1, Kind: CmdShadowbandStep, Steps: 10},
			wantErr: errors.ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.action)
			if tt.wantErr != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestDecode 应答解码
func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind AnswerKind
		wantID   string
		wantCode int
		wantText string
		wantErr  bool
	}{
		{
			name:     "成功应答",
			raw:      "F10\r\n",
			wantKind: AnswerDevice,
			wantID:   "F1",
			wantCode: 0,
		},
		{
			name:     "通信错误应答",
			raw:      "F21\r\n",
			wantKind: AnswerDevice,
			wantID:   "F2",
			wantCode: 1,
		},
		{
			name:     "硬件故障应答",
			raw:      "SB2\r\n",
			wantKind: AnswerDevice,
			wantID:   "SB",
			wantCode: 2,
		},
		{
			name:     "身份回显",
			raw:      testIdentity + "\r\n",
			wantKind: AnswerIdentity,
			wantText: testIdentity,
		},
		{
			name:     "第一个CRLF之后的字节被忽略",
			raw:      "F10\r\nF21\r\n",
			wantKind: AnswerDevice,
			wantID:   "F1",
			wantCode: 0,
		},
		{
			name:    "空应答",
			raw:     "\r\n",
			wantErr: true,
		},
		{
			name:    "未知标签",
			raw:     "XX0\r\n",
			wantErr: true,
		},
		{
			name:    "码段非数字",
			raw:     "F1x\r\n",
			wantErr: true,
		},
		{
			name:    "噪声字节",
			raw:     "\x00\xffgarbage\r\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := Decode([]byte(tt.raw), testIdentity)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrProtocolParse, errors.GetCode(err))
				assert.Equal(t, CodeParse, ans.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ans.Kind)
			assert.Equal(t, tt.wantID, ans.ID)
			assert.Equal(t, tt.wantCode, ans.Code)
			assert.Equal(t, tt.wantText, ans.Text)
		})
	}
}

// TestEncodeDecodeRoundTrip 任何编码后的指令若被设备以code=0确认，
// 解码结果必须指向同一目标
func TestEncodeDecodeRoundTrip(t *testing.T) {
	actions := []Action{
		MoveAction(TargetFW1, 1),
		MoveAction(TargetFW1, 9),
		MoveAction(TargetFW2, 4),
		ResetAction(TargetFW1),
		ResetAction(TargetFW2),
		ResetAction(TargetShadowband),
		ShadowbandAction(-1000),
		ShadowbandAction(77),
	}

	for _, a := range actions {
		cmd, err := Encode(a)
		require.NoError(t, err, a.Describe())

		ans, err := Decode([]byte(cmd[:2]+"0\r\n"), testIdentity)
		require.NoError(t, err, a.Describe())
		assert.Equal(t, a.Target.Tag(), ans.ID, a.Describe())
		assert.Equal(t, OutcomeSuccess, Validate(ans, ExpectedDevice(a.Target)), a.Describe())
	}
}

// TestValidate 应答分类
func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ans  Answer
		exp  ExpectedAnswer
		want Outcome
	}{
		{
			name: "code=0为成功",
			ans:  Answer{Kind: AnswerDevice, ID: "F1", Code: 0},
			exp:  ExpectedDevice(TargetFW1),
			want: OutcomeSuccess,
		},
		{
			name: "期望集合内的错误码",
			ans:  Answer{Kind: AnswerDevice, ID: "F1", Code: 2},
			exp:  ExpectedDevice(TargetFW1),
			want: OutcomeErrorCode,
		},
		{
			name: "目标标签不符",
			ans:  Answer{Kind: AnswerDevice, ID: "F2", Code: 0},
			exp:  ExpectedDevice(TargetFW1),
			want: OutcomeMismatched,
		},
		{
			name: "期望集合外的错误码",
			ans:  Answer{Kind: AnswerDevice, ID: "F1", Code: 7},
			exp:  ExpectedDevice(TargetFW1),
			want: OutcomeMismatched,
		},
		{
			name: "期望设备应答却收到身份",
			ans:  Answer{Kind: AnswerIdentity, Text: testIdentity},
			exp:  ExpectedDevice(TargetFW1),
			want: OutcomeMismatched,
		},
		{
			name: "身份查询成功",
			ans:  Answer{Kind: AnswerIdentity, Text: testIdentity},
			exp:  ExpectedIdentity(testIdentity),
			want: OutcomeSuccess,
		},
		{
			name: "身份串不符",
			ans:  Answer{Kind: AnswerIdentity, Text: "OTHER DEVICE"},
			exp:  ExpectedIdentity(testIdentity),
			want: OutcomeMismatched,
		},
		{
			name: "身份查询收到设备应答",
			ans:  Answer{Kind: AnswerDevice, ID: "F1", Code: 0},
			exp:  ExpectedIdentity(testIdentity),
			want: OutcomeMismatched,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.ans, tt.exp))
		})
	}
}
