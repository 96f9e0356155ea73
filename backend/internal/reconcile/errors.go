package reconcile

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidInput  = errors.New("RECONCILE_INVALID_INPUT")
	ErrInvalidConfig = errors.New("RECONCILE_INVALID_CONFIG")
)

// MaxTimestampMs JSON number 能精确表示的最大整数；时间戳与窗口都不能超过它，
// 保证 ts - window 不会溢出
const MaxTimestampMs int64 = 1<<53 - 1

// MaxCount changedChars / sectionLength 的上限，超出部分夹到该值
const MaxCount = math.MaxInt32

// ParseEvent 把上游不可信的数值（JSON number 等）转换成 SectionEditEvent
// NaN/Inf 直接报错；时间戳超出 ±MaxTimestampMs 报错；小数截断；负数夹到 0，过大的计数夹到 MaxCount
func ParseEvent(sectionID, authorID string, timestampMs, changedChars, sectionLength float64) (SectionEditEvent, error) {
	fields := []struct {
		name string
		v    float64
	}{
		{"timestampMs", timestampMs},
		{"changedChars", changedChars},
		{"sectionLength", sectionLength},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return SectionEditEvent{}, fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidInput, f.name, f.v)
		}
	}
	if math.Abs(timestampMs) > float64(MaxTimestampMs) {
		return SectionEditEvent{}, fmt.Errorf("%w: timestampMs out of range, got %v", ErrInvalidInput, timestampMs)
	}
	ev := SectionEditEvent{
		SectionID:     sectionID,
		AuthorID:      authorID,
		TimestampMs:   int64(math.Trunc(timestampMs)),
		ChangedChars:  clampCount(changedChars),
		SectionLength: clampCount(sectionLength),
	}
	if _, err := normalize(ev); err != nil {
		return SectionEditEvent{}, err
	}
	return ev, nil
}

func clampCount(v float64) int {
	v = math.Trunc(v)
	if v <= 0 {
		return 0
	}
	if v > MaxCount {
		return MaxCount
	}
	return int(v)
}

func normalize(ev SectionEditEvent) (HistoryEntry, error) {
	if ev.SectionID == "" {
		return HistoryEntry{}, fmt.Errorf("%w: empty sectionId", ErrInvalidInput)
	}
	if ev.AuthorID == "" {
		return HistoryEntry{}, fmt.Errorf("%w: empty authorId", ErrInvalidInput)
	}
	if ev.TimestampMs > MaxTimestampMs || ev.TimestampMs < -MaxTimestampMs {
		return HistoryEntry{}, fmt.Errorf("%w: timestampMs out of range, got %d", ErrInvalidInput, ev.TimestampMs)
	}
	e := HistoryEntry{
		AuthorID:      ev.AuthorID,
		TimestampMs:   ev.TimestampMs,
		ChangedChars:  ev.ChangedChars,
		SectionLength: ev.SectionLength,
	}
	if e.ChangedChars < 0 {
		e.ChangedChars = 0
	}
	if e.SectionLength < 0 {
		e.SectionLength = 0
	}
	return e, nil
}
