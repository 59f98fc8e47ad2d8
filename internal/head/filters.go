package head

import (
	"fmt"
	"sort"

	"github.com/wfunc/spectro-head/internal/config"
)

// FilterTable 滤光片位置到名称的映射，仅用于显示和API响应
// 对指令编码与校验没有任何影响
type FilterTable struct {
	names map[Target]map[int]string
}

// NewFilterTable 从配置构建名称表
func NewFilterTable(cfg config.FilterConfig) *FilterTable {
	t := &FilterTable{names: make(map[Target]map[int]string)}
	if len(cfg.FW1) > 0 {
		t.names[TargetFW1] = cloneNames(cfg.FW1)
	}
	if len(cfg.FW2) > 0 {
		t.names[TargetFW2] = cloneNames(cfg.FW2)
	}
	return t
}

func cloneNames(src map[int]string) map[int]string {
	dst := make(map[int]string, len(src))
	for pos, name := range src {
		if pos >= MinPosition && pos <= MaxPosition {
			dst[pos] = name
		}
	}
	return dst
}

// Name 查询某轮某位置的滤光片名称，未配置时返回 "position N"
func (t *FilterTable) Name(target Target, position int) string {
	if t != nil {
		if wheel, ok := t.names[target]; ok {
			if name, ok := wheel[position]; ok {
				return name
			}
		}
	}
	return fmt.Sprintf("position %d", position)
}

// FilterSlot 一个滤光轮位置条目
type FilterSlot struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
}

// Wheel 某个滤光轮的全部已配置条目，按位置升序
func (t *FilterTable) Wheel(target Target) []FilterSlot {
	if t == nil {
		return nil
	}
	wheel, ok := t.names[target]
	if !ok {
		return nil
	}
	slots := make([]FilterSlot, 0, len(wheel))
	for pos, name := range wheel {
		slots = append(slots, FilterSlot{Position: pos, Name: name})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Position < slots[j].Position })
	return slots
}
