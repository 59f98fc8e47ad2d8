package head

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wfunc/spectro-head/internal/errors"
)

// AnswerKind 应答种类
type AnswerKind int

const (
	AnswerDevice   AnswerKind = iota // 目标标签+数字码
	AnswerIdentity                   // 设备身份回显
)

// Answer 解码后的应答
type Answer struct {
	Kind AnswerKind
	ID   string // 设备应答的2字符目标标签
	Code int    // 设备应答码
	Text string // 身份应答的完整文本
}

// ExpectedAnswer 本次动作可接受的应答集合
// 不匹配的应答不会立即判协议失败，只消耗非期望应答预算
type ExpectedAnswer struct {
	ID       string       // 期望的目标标签
	Codes    map[int]bool // 允许的应答码集合（含0）
	Identity string       // 期望的身份串，仅身份查询时非空
}

// ExpectedDevice 构造设备应答期望：{0} ∪ 已知错误码
func ExpectedDevice(target Target) ExpectedAnswer {
	return ExpectedAnswer{
		ID: target.Tag(),
		Codes: map[int]bool{
			CodeOK:       true,
			CodeComm:     true,
			CodeHardware: true,
		},
	}
}

// ExpectedIdentity 构造身份查询期望
func ExpectedIdentity(identity string) ExpectedAnswer {
	return ExpectedAnswer{Identity: identity}
}

// Encode 将动作编码为外发帧（不含CR终止符，由传输层在发送时追加）
func Encode(a Action) (string, error) {
	tag := a.Target.Tag()
	if tag == "" {
		return "", errors.Newf(errors.ErrInvalidTarget, "目标: %q", string(a.Target))
	}

	switch a.Kind {
	case CmdMove:
		if a.Position < MinPosition || a.Position > MaxPosition {
			return "", errors.Newf(errors.ErrInvalidPos, "位置: %d", a.Position)
		}
		return fmt.Sprintf("%s%d", tag, a.Position), nil
	case CmdReset:
		return tag + "r", nil
	case CmdShadowbandStep:
		if a.Target != TargetShadowband {
			return "", errors.Newf(errors.ErrInvalidTarget, "步进仅限遮光带: %s", a.Target)
		}
		if a.Steps < -MaxStep || a.Steps > MaxStep {
			return "", errors.Newf(errors.ErrInvalidStep, "步数: %d", a.Steps)
		}
		return fmt.Sprintf("%s%d", tag, a.Steps), nil
	}
	return "", errors.Newf(errors.ErrInvalidParam, "未知指令类型: %d", a.Kind)
}

// Decode 解析原始应答字节
// 在第一个CRLF处截断，之后按 <2字符目标标签><数字> 或配置的身份串解析
func Decode(raw []byte, identity string) (Answer, error) {
	text := string(raw)
	if idx := strings.Index(text, "\r\n"); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimRight(text, "\r\n")

	if len(text) >= 3 {
		tag := text[:2]
		if _, ok := targetByTag(tag); ok {
			if code, err := strconv.Atoi(text[2:]); err == nil {
				return Answer{Kind: AnswerDevice, ID: tag, Code: code}, nil
			}
		}
	}

	if identity != "" && text == identity {
		return Answer{Kind: AnswerIdentity, Text: text}, nil
	}

	return Answer{Code: CodeParse}, errors.Newf(errors.ErrProtocolParse, "应答: %q", text)
}

// Validate 将应答与期望集合比对并分类
// Mismatched 不直接判失败，由状态机计入非期望应答预算
func Validate(ans Answer, exp ExpectedAnswer) Outcome {
	// 身份查询
	if exp.Identity != "" {
		if ans.Kind == AnswerIdentity && ans.Text == exp.Identity {
			return OutcomeSuccess
		}
		return OutcomeMismatched
	}

	// 设备应答
	if ans.Kind != AnswerDevice || ans.ID != exp.ID {
		return OutcomeMismatched
	}
	if ans.Code == CodeOK {
		return OutcomeSuccess
	}
	if exp.Codes[ans.Code] {
		return OutcomeErrorCode
	}
	return OutcomeMismatched
}

// CodeMessage 设备错误码对应的可读消息
func CodeMessage(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeComm:
		return errors.New(errors.ErrProtocolComm).Message
	case CodeHardware:
		return errors.New(errors.ErrProtocolHardware).Message
	case CodeParse:
		return errors.New(errors.ErrProtocolParse).Message
	}
	return fmt.Sprintf("未知设备错误码: %d", code)
}
