package resolution

import (
	"fmt"

	"reconcileServer/backend/internal/ot/delta"
)

// 默认的 keep-both 分隔：单独成段的 markdown 水平线
const DefaultKeepBothSeparator = "\n\n---\n\n"

// Document 是解决冲突时要写回的宿主文档（collab.PieceTable 满足该接口）
// Apply 失败时必须保持文档不变
type Document interface {
	Len() int
	Apply(d delta.Delta) error
}

type Options struct {
	// 为空时使用 DefaultKeepBothSeparator
	KeepBothSeparator string
	// 每次成功解决后回调一次（持久化由宿主负责）
	OnResolve func(Resolution)
}

type observer struct {
	id int
	fn func([]Overlay)
}

// Surface 持有某个文档上所有待决冲突，并负责：
//   - 文档变化时重映射锚点
//   - 把用户的选择变成一次原子的替换编辑
//
// 非并发安全：与 Detector 一样，由 collab 服务在文档锁内调用
type Surface struct {
	doc       Document
	separator string
	onResolve func(Resolution)

	entries  []Entry
	overlays []Overlay

	observers    []observer
	nextObserver int
}

func NewSurface(doc Document, opts Options) *Surface {
	sep := opts.KeepBothSeparator
	if sep == "" {
		sep = DefaultKeepBothSeparator
	}
	return &Surface{doc: doc, separator: sep, onResolve: opts.OnResolve}
}

// SetEntries 用一组新的原始数据整体替换当前集合
func (s *Surface) SetEntries(raw []RawEntry) {
	docLen := s.doc.Len()
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		if e, ok := normalizeEntry(r, docLen); ok {
			entries = append(entries, e)
		}
	}
	s.entries = dedupeAndSort(entries)
	s.refresh()
}

// Add 规范化一条原始数据并并入当前集合（同 id 覆盖），被丢弃时返回 false
func (s *Surface) Add(raw RawEntry) bool {
	e, ok := normalizeEntry(raw, s.doc.Len())
	if !ok {
		return false
	}
	s.entries = dedupeAndSort(append(s.entries, e))
	s.refresh()
	return true
}

// Remap 文档被其他人修改之后调用：From 前向偏置、To 后向偏置
func (s *Surface) Remap(d delta.Delta) {
	if len(d) == 0 || len(s.entries) == 0 {
		return
	}
	if s.remapEntries(d) {
		s.refresh()
	}
}

// Resolve 对 id 应用 choice：替换当前锚定区间、移除条目、回报结果。
// id 不存在时是无操作（ok=false）
func (s *Surface) Resolve(id string, choice Choice) (Resolution, bool, error) {
	if !choice.Valid() {
		return Resolution{}, false, fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	i := s.indexOf(id)
	if i < 0 {
		return Resolution{}, false, nil
	}
	e := s.entries[i]
	replacement, err := Replacement(e, choice, s.separator)
	if err != nil {
		return Resolution{}, false, err
	}

	from, to := clampRange(e.From, e.To, s.doc.Len())
	edit := delta.Replace(from, to, replacement)
	if err := s.doc.Apply(edit); err != nil {
		return Resolution{}, false, err
	}

	// 文档与条目集合一起变化，中间状态对外不可见
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	s.remapEntries(edit)
	s.refresh()

	res := Resolution{
		ID:            e.ID,
		SectionID:     e.SectionID,
		Choice:        choice,
		Replacement:   replacement,
		From:          from,
		To:            to,
		TriggeredAtMs: e.TriggeredAtMs,
	}
	if s.onResolve != nil {
		s.onResolve(res)
	}
	return res, true, nil
}

// Remove 外部显式移除；重复移除是无操作
func (s *Surface) Remove(id string) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	s.refresh()
	return true
}

func (s *Surface) Entry(id string) (Entry, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

func (s *Surface) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Surface) Overlays() []Overlay {
	out := make([]Overlay, len(s.overlays))
	copy(out, s.overlays)
	return out
}

func (s *Surface) Len() int { return len(s.entries) }

// Subscribe 注册观察者，每次条目或锚点变化后收到最新的 overlays
func (s *Surface) Subscribe(fn func([]Overlay)) (cancel func()) {
	id := s.nextObserver
	s.nextObserver++
	s.observers = append(s.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Surface) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// remapEntries 把所有锚点映射过 d，返回是否有变化
func (s *Surface) remapEntries(d delta.Delta) bool {
	docLen := s.doc.Len()
	changed := false
	for i := range s.entries {
		e := &s.entries[i]
		from := delta.MapPosition(d, e.From, delta.BiasForward)
		to := delta.MapPosition(d, e.To, delta.BiasBackward)
		from, to = clampRange(from, to, docLen)
		if from != e.From || to != e.To {
			e.From, e.To = from, to
			changed = true
		}
	}
	return changed
}

// refresh 重新排序、重建 overlays 并通知观察者
func (s *Surface) refresh() {
	sortEntries(s.entries)
	overlays := make([]Overlay, len(s.entries))
	for i, e := range s.entries {
		overlays[i] = buildOverlay(e)
	}
	s.overlays = overlays
	for _, o := range s.observers {
		o.fn(s.Overlays())
	}
}
