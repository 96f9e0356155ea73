package reconcile

import (
	"fmt"
	"math"
	"sort"
)

const (
	DefaultWindowMs       int64   = 30_000
	DefaultThresholdRatio float64 = 0.5
)

type Option func(*Detector)

// WithWindow 设置统计窗口（毫秒），取值 (0, MaxTimestampMs]
func WithWindow(ms int64) Option {
	return func(d *Detector) { d.windowMs = ms }
}

// WithThresholdRatio 设置触发阈值，允许为 0，不允许为负
func WithThresholdRatio(r float64) Option {
	return func(d *Detector) { d.threshold = r }
}

// Detector 按 section 维护有界的编辑历史，在“多作者 + 大比例改动”首次成立时给出 Trigger。
// 非并发安全：调用方负责串行化（collab 服务在文档锁内调用）
type Detector struct {
	windowMs  int64
	threshold float64
	// sectionID -> 按 TimestampMs 升序的历史
	history map[string][]HistoryEntry
}

func NewDetector(opts ...Option) (*Detector, error) {
	d := &Detector{
		windowMs:  DefaultWindowMs,
		threshold: DefaultThresholdRatio,
		history:   make(map[string][]HistoryEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.windowMs <= 0 || d.windowMs > MaxTimestampMs {
		return nil, fmt.Errorf("%w: windowMs must be in (0, %d], got %d", ErrInvalidConfig, MaxTimestampMs, d.windowMs)
	}
	if math.IsNaN(d.threshold) || math.IsInf(d.threshold, 0) || d.threshold < 0 {
		return nil, fmt.Errorf("%w: thresholdRatio must be a finite non-negative number, got %v", ErrInvalidConfig, d.threshold)
	}
	return d, nil
}

func (d *Detector) WindowMs() int64         { return d.windowMs }
func (d *Detector) ThresholdRatio() float64 { return d.threshold }

// RecordEdit 记录一次编辑，只有在本次编辑让条件从“不满足”变为“满足”时返回 Trigger
func (d *Detector) RecordEdit(ev SectionEditEvent) (*Trigger, error) {
	entry, err := normalize(ev)
	if err != nil {
		return nil, err
	}

	// 按时间戳插入（乱序到达也保持有序；相同时间戳按到达顺序）
	hist := d.history[ev.SectionID]
	idx := sort.Search(len(hist), func(i int) bool { return hist[i].TimestampMs > entry.TimestampMs })
	hist = append(hist, HistoryEntry{})
	copy(hist[idx+1:], hist[idx:])
	hist[idx] = entry

	// 以合并后的最大时间戳为基准裁剪
	latest := hist[len(hist)-1].TimestampMs
	hist, dropped := d.prune(ev.SectionID, hist, latest-d.windowMs)
	if idx < dropped {
		// 新事件本身已经落在窗口之外，不参与判断
		return nil, nil
	}
	idx -= dropped

	start := entry.TimestampMs - d.windowMs
	before := windowStats(ev.SectionID, hist, start, entry.TimestampMs, idx)
	after := windowStats(ev.SectionID, hist, start, entry.TimestampMs, -1)
	if d.shouldTrigger(before) || !d.shouldTrigger(after) {
		return nil, nil
	}
	return &Trigger{
		SectionID:     ev.SectionID,
		TriggeredAtMs: entry.TimestampMs,
		Stats:         after,
	}, nil
}

// SectionHistory 以 nowMs 为基准裁剪后返回历史副本
func (d *Detector) SectionHistory(sectionID string, nowMs int64) []HistoryEntry {
	hist, _ := d.prune(sectionID, d.history[sectionID], nowMs-d.windowMs)
	if len(hist) == 0 {
		return nil
	}
	out := make([]HistoryEntry, len(hist))
	copy(out, hist)
	return out
}

// SectionStats 以 nowMs 为基准裁剪后统计 [nowMs-window, nowMs]
func (d *Detector) SectionStats(sectionID string, nowMs int64) WindowStats {
	hist, _ := d.prune(sectionID, d.history[sectionID], nowMs-d.windowMs)
	return windowStats(sectionID, hist, nowMs-d.windowMs, nowMs, -1)
}

// Sections 返回当前仍有历史的 section（排序后）
func (d *Detector) Sections() []string {
	out := make([]string, 0, len(d.history))
	for id := range d.history {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *Detector) ClearSection(sectionID string) {
	delete(d.history, sectionID)
}

func (d *Detector) Clear() {
	d.history = make(map[string][]HistoryEntry)
}

func (d *Detector) shouldTrigger(s WindowStats) bool {
	return s.SectionLength > 0 && s.DistinctAuthorCount >= 2 && s.ChangeRatio > d.threshold
}

// prune 丢弃时间戳早于 cutoff 的记录并写回；清空时删除整个 section
func (d *Detector) prune(sectionID string, hist []HistoryEntry, cutoff int64) ([]HistoryEntry, int) {
	dropped := sort.Search(len(hist), func(i int) bool { return hist[i].TimestampMs >= cutoff })
	if dropped == len(hist) {
		delete(d.history, sectionID)
		return nil, dropped
	}
	if dropped > 0 {
		// 拷贝一份，避免旧底层数组一直被引用
		hist = append([]HistoryEntry(nil), hist[dropped:]...)
	}
	d.history[sectionID] = hist
	return hist, dropped
}

// windowStats 统计 [start, end] 内的记录，skip 为要排除的下标（-1 表示不排除）
func windowStats(sectionID string, hist []HistoryEntry, start, end int64, skip int) WindowStats {
	s := WindowStats{SectionID: sectionID}
	authors := make(map[string]struct{})
	for i, e := range hist {
		if i == skip || e.TimestampMs < start || e.TimestampMs > end {
			continue
		}
		if s.EditCount == 0 || e.TimestampMs < s.OldestTimestampMs {
			s.OldestTimestampMs = e.TimestampMs
		}
		if s.EditCount == 0 || e.TimestampMs > s.NewestTimestampMs {
			s.NewestTimestampMs = e.TimestampMs
		}
		s.EditCount++
		s.TotalChangedChars += e.ChangedChars
		if e.SectionLength > s.SectionLength {
			s.SectionLength = e.SectionLength
		}
		authors[e.AuthorID] = struct{}{}
	}
	s.DistinctAuthorCount = len(authors)
	if s.SectionLength > 0 {
		s.ChangeRatio = float64(s.TotalChangedChars) / float64(s.SectionLength)
	}
	return s
}
