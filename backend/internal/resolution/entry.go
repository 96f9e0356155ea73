package resolution

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Choice string

const (
	ChoiceKeepA    Choice = "keep-a"
	ChoiceKeepB    Choice = "keep-b"
	ChoiceKeepBoth Choice = "keep-both"
)

var ErrUnknownChoice = errors.New("RESOLUTION_UNKNOWN_CHOICE")

func (c Choice) Valid() bool {
	switch c {
	case ChoiceKeepA, ChoiceKeepB, ChoiceKeepBoth:
		return true
	}
	return false
}

// RawVersion / RawEntry 是上游（trigger 适配器、前端、消息队列）给过来的原始数据，不可信
type RawVersion struct {
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName,omitempty"`
	Content    any    `json:"content"`
}

type RawEntry struct {
	ID            string      `json:"id"`
	SectionID     string      `json:"sectionId,omitempty"`
	From          int         `json:"from"`
	To            int         `json:"to"`
	VersionA      *RawVersion `json:"versionA"`
	VersionB      *RawVersion `json:"versionB"`
	TriggeredAtMs *int64      `json:"triggeredAtMs,omitempty"`
}

type Version struct {
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
}

// Entry 规范化之后的待决冲突，锚定在文档的 [From, To)
type Entry struct {
	ID            string  `json:"id"`
	SectionID     string  `json:"sectionId"`
	From          int     `json:"from"`
	To            int     `json:"to"`
	VersionA      Version `json:"versionA"`
	VersionB      Version `json:"versionB"`
	TriggeredAtMs *int64  `json:"triggeredAtMs,omitempty"`
}

// Resolution 一次性回报给持久化方，不在内部保留
type Resolution struct {
	ID            string `json:"id"`
	SectionID     string `json:"sectionId"`
	Choice        Choice `json:"choice"`
	Replacement   string `json:"replacement"`
	From          int    `json:"from"`
	To            int    `json:"to"`
	TriggeredAtMs *int64 `json:"triggeredAtMs,omitempty"`
}

// Replacement 计算某个选择对应的替换文本
func Replacement(e Entry, choice Choice, separator string) (string, error) {
	switch choice {
	case ChoiceKeepA:
		return e.VersionA.Content, nil
	case ChoiceKeepB:
		return e.VersionB.Content, nil
	case ChoiceKeepBoth:
		parts := make([]string, 0, 2)
		for _, c := range []string{e.VersionA.Content, e.VersionB.Content} {
			if c != "" {
				parts = append(parts, c)
			}
		}
		return strings.Join(parts, separator), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
}

// normalizeEntry 规范化单条原始数据；不合格直接丢弃（ok=false），不报错
func normalizeEntry(raw RawEntry, docLen int) (Entry, bool) {
	if strings.TrimSpace(raw.ID) == "" {
		return Entry{}, false
	}
	a, ok := normalizeVersion(raw.VersionA)
	if !ok {
		return Entry{}, false
	}
	b, ok := normalizeVersion(raw.VersionB)
	if !ok {
		return Entry{}, false
	}
	from, to := clampRange(raw.From, raw.To, docLen)
	if from == to {
		return Entry{}, false
	}
	sectionID := raw.SectionID
	if strings.TrimSpace(sectionID) == "" {
		sectionID = raw.ID
	}
	e := Entry{
		ID:        raw.ID,
		SectionID: sectionID,
		From:      from,
		To:        to,
		VersionA:  a,
		VersionB:  b,
	}
	if raw.TriggeredAtMs != nil {
		ts := *raw.TriggeredAtMs
		e.TriggeredAtMs = &ts
	}
	return e, true
}

func normalizeVersion(raw *RawVersion) (Version, bool) {
	if raw == nil || strings.TrimSpace(raw.AuthorID) == "" {
		return Version{}, false
	}
	content, ok := stringify(raw.Content)
	if !ok {
		return Version{}, false
	}
	name := raw.AuthorName
	if strings.TrimSpace(name) == "" {
		name = raw.AuthorID
	}
	return Version{AuthorID: raw.AuthorID, AuthorName: name, Content: content}, true
}

// stringify 把任意内容转成字符串；nil 视为缺失
func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case json.Number:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

// clampRange 把区间夹进 [0, docLen] 并保证 from <= to
func clampRange(from, to, docLen int) (int, int) {
	from = clamp(from, docLen)
	to = clamp(to, docLen)
	if from > to {
		from, to = to, from
	}
	return from, to
}

func clamp(pos, docLen int) int {
	if pos < 0 {
		return 0
	}
	if pos > docLen {
		return docLen
	}
	return pos
}

// dedupeAndSort 按 id 去重（后写覆盖），再按 (From, ID) 排序
func dedupeAndSort(entries []Entry) []Entry {
	byID := make(map[string]int, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := byID[e.ID]; ok {
			out[i] = e
			continue
		}
		byID[e.ID] = len(out)
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].From != entries[j].From {
			return entries[i].From < entries[j].From
		}
		return entries[i].ID < entries[j].ID
	})
}
