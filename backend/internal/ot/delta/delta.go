package delta

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度（按 rune 计）
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（粗体/颜色等）
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

var ErrOutOfRange = errors.New("DELTA_OUT_OF_RANGE")

// Validate 校验 delta 能否作用在长度为 docLen 的文档上
// retain/delete 消耗旧文档的字符，累计不能越过末尾；insert 不消耗
func Validate(d Delta, docLen int) error {
	consumed := 0
	for i, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count < 0 {
				return fmt.Errorf("%w: op %d has negative count %d", ErrOutOfRange, i, op.Count)
			}
			consumed += op.Count
			if consumed > docLen {
				return fmt.Errorf("%w: op %d reaches %d, document length %d", ErrOutOfRange, i, consumed, docLen)
			}
		case KindInsert:
		default:
			return fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}
	return nil
}

// ChangedChars 统计一次编辑触及的字符数：插入长度 + 删除长度
func ChangedChars(d Delta) int {
	n := 0
	for _, op := range d {
		switch op.Kind {
		case KindInsert:
			n += utf8.RuneCountInString(op.Text)
		case KindDelete:
			n += op.Count
		}
	}
	return n
}

// EditStart 返回第一个非 retain 操作在旧文档中的位置
func EditStart(d Delta) int {
	pos := 0
	for _, op := range d {
		if op.Kind != KindRetain {
			return pos
		}
		pos += op.Count
	}
	return pos
}

// Replace 构造“把 [from,to) 替换成 text”的单个 delta
func Replace(from, to int, text string) Delta {
	var d Delta
	if from > 0 {
		d = append(d, Op{Kind: KindRetain, Count: from})
	}
	if to > from {
		d = append(d, Op{Kind: KindDelete, Count: to - from})
	}
	if text != "" {
		d = append(d, Op{Kind: KindInsert, Text: text})
	}
	return d
}
