package collab

import (
	"reconcileServer/backend/internal/ot/delta"
)

// 抽象文档内容缓冲区接口（同时满足 resolution.Document）
type Buffer interface {
	Len() int
	// Apply 要么整体成功，要么不改动缓冲区
	Apply(d delta.Delta) error
	String() string
	// Slice 返回 [from, to) 的文本（按 rune 计，越界会被夹紧）
	Slice(from, to int) string
}

/*
结构示例

初始文档内容 `"# Intro\nhello"`：

- original buffer：`"# Intro\nhello"`
- add buffer 为空
- piece 表：

[ (orig, offset=0, length=13) ]

冲突解决时把 [8,13) 替换成 "bonjour"（retain 8, delete 5, insert "bonjour"）：

- add buffer 追加 "bonjour"
- piece 表：

[
  (orig, offset=0, length=8),   // "# Intro\n"
  (add,  offset=0, length=7),   // "bonjour"
]
*/
