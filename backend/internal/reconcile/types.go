package reconcile

// SectionEditEvent 一次对某个 section 的编辑（已经过 CRDT 合并后的串行事件流）
type SectionEditEvent struct {
	SectionID     string `json:"sectionId"`
	AuthorID      string `json:"authorId"`
	TimestampMs   int64  `json:"timestampMs"`
	ChangedChars  int    `json:"changedChars"`  // 本次编辑触及的字符数
	SectionLength int    `json:"sectionLength"` // 编辑之后 section 的长度
}

// HistoryEntry 规范化后的编辑记录，只追加、只按时间裁剪
type HistoryEntry struct {
	AuthorID      string `json:"authorId"`
	TimestampMs   int64  `json:"timestampMs"`
	ChangedChars  int    `json:"changedChars"`
	SectionLength int    `json:"sectionLength"`
}

// WindowStats 某个时间窗口内的派生统计，不落库
type WindowStats struct {
	SectionID           string  `json:"sectionId" yaml:"sectionId"`
	EditCount           int     `json:"editCount" yaml:"editCount"`
	DistinctAuthorCount int     `json:"distinctAuthorCount" yaml:"distinctAuthorCount"`
	TotalChangedChars   int     `json:"totalChangedChars" yaml:"totalChangedChars"`
	SectionLength       int     `json:"sectionLength" yaml:"sectionLength"` // 窗口内观察到的最大长度
	ChangeRatio         float64 `json:"changeRatio" yaml:"changeRatio"`
	OldestTimestampMs   int64   `json:"oldestTimestampMs,omitempty" yaml:"oldestTimestampMs,omitempty"`
	NewestTimestampMs   int64   `json:"newestTimestampMs,omitempty" yaml:"newestTimestampMs,omitempty"`
}

// Trigger 上升沿触发一次
type Trigger struct {
	SectionID     string      `json:"sectionId" yaml:"sectionId"`
	TriggeredAtMs int64       `json:"triggeredAtMs" yaml:"triggeredAtMs"`
	Stats         WindowStats `json:"stats" yaml:"stats"`
}
