package resolution

import (
	"errors"
	"testing"

	"reconcileServer/backend/internal/ot/delta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// textDoc 是测试用的最小文档实现
type textDoc struct {
	runes   []rune
	failErr error
	applied []delta.Delta
}

func newTextDoc(s string) *textDoc { return &textDoc{runes: []rune(s)} }

func (d *textDoc) Len() int { return len(d.runes) }

func (d *textDoc) String() string { return string(d.runes) }

func (d *textDoc) Apply(op delta.Delta) error {
	if d.failErr != nil {
		return d.failErr
	}
	if err := delta.Validate(op, len(d.runes)); err != nil {
		return err
	}
	out := make([]rune, 0, len(d.runes))
	pos := 0
	for _, o := range op {
		switch o.Kind {
		case delta.KindRetain:
			out = append(out, d.runes[pos:pos+o.Count]...)
			pos += o.Count
		case delta.KindInsert:
			out = append(out, []rune(o.Text)...)
		case delta.KindDelete:
			pos += o.Count
		}
	}
	d.runes = append(out, d.runes[pos:]...)
	d.applied = append(d.applied, op)
	return nil
}

func rawEntry(id string, from, to int, a, b string) RawEntry {
	return RawEntry{
		ID:       id,
		From:     from,
		To:       to,
		VersionA: &RawVersion{AuthorID: "u1", AuthorName: "Alice", Content: a},
		VersionB: &RawVersion{AuthorID: "u2", AuthorName: "Bob", Content: b},
	}
}

func TestSurface_SetEntriesNormalizesAndSorts(t *testing.T) {
	doc := newTextDoc("0123456789")
	s := NewSurface(doc, Options{})

	s.SetEntries([]RawEntry{
		rawEntry("b", 6, 8, "x", "y"),
		rawEntry("a", 9, 2, "x", "y"),    // 反向区间被交换
		rawEntry("c", 5, 5, "x", "y"),    // 空区间丢弃
		rawEntry("  ", 0, 1, "x", "y"),   // 空 id 丢弃
		rawEntry("d", -4, 100, "x", "y"), // 夹到 [0,10]
		{ID: "e", From: 0, To: 1, VersionA: &RawVersion{AuthorID: "u1", Content: "x"}},
		rawEntry("b", 7, 9, "x2", "y2"), // 同 id 后写覆盖
	})

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "d", entries[0].ID)
	assert.Equal(t, 0, entries[0].From)
	assert.Equal(t, 10, entries[0].To)
	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, 2, entries[1].From)
	assert.Equal(t, 9, entries[1].To)
	assert.Equal(t, "b", entries[2].ID)
	assert.Equal(t, 7, entries[2].From)
	assert.Equal(t, "x2", entries[2].VersionA.Content)
	assert.Equal(t, "b", entries[2].SectionID)
}

func TestSurface_VersionNormalization(t *testing.T) {
	doc := newTextDoc("hello world")
	s := NewSurface(doc, Options{})

	ts := int64(42)
	ok := s.Add(RawEntry{
		ID:            "e1",
		SectionID:     "intro",
		From:          0,
		To:            5,
		VersionA:      &RawVersion{AuthorID: "7", Content: 123},
		VersionB:      &RawVersion{AuthorID: "8", AuthorName: "Bob", Content: []byte("bytes")},
		TriggeredAtMs: &ts,
	})
	require.True(t, ok)

	e, found := s.Entry("e1")
	require.True(t, found)
	assert.Equal(t, "7", e.VersionA.AuthorName)
	assert.Equal(t, "123", e.VersionA.Content)
	assert.Equal(t, "bytes", e.VersionB.Content)
	require.NotNil(t, e.TriggeredAtMs)
	assert.Equal(t, int64(42), *e.TriggeredAtMs)

	ts = 99
	e, _ = s.Entry("e1")
	assert.Equal(t, int64(42), *e.TriggeredAtMs)

	assert.False(t, s.Add(RawEntry{ID: "e2", From: 0, To: 3,
		VersionA: &RawVersion{AuthorID: "1", Content: nil},
		VersionB: &RawVersion{AuthorID: "2", Content: "b"}}))
	assert.False(t, s.Add(RawEntry{ID: "e3", From: 0, To: 3,
		VersionA: &RawVersion{AuthorID: " ", Content: "a"},
		VersionB: &RawVersion{AuthorID: "2", Content: "b"}}))
	assert.Equal(t, 1, s.Len())
}

func TestSurface_RemapTracksAnchors(t *testing.T) {
	doc := newTextDoc("aaaaXXXXbbbb")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 4, 8, "A", "B")))

	// 区间之前插入两个字符
	edit := delta.Delta{{Kind: delta.KindInsert, Text: "zz"}}
	require.NoError(t, doc.Apply(edit))
	s.Remap(edit)
	e, _ := s.Entry("e")
	assert.Equal(t, 6, e.From)
	assert.Equal(t, 10, e.To)

	// 恰好在区间起点插入：不扩进区间
	edit = delta.Replace(6, 6, "__")
	require.NoError(t, doc.Apply(edit))
	s.Remap(edit)
	e, _ = s.Entry("e")
	assert.Equal(t, 8, e.From)
	assert.Equal(t, 12, e.To)

	// 恰好在区间终点插入：同样不扩进
	edit = delta.Replace(12, 12, "!!")
	require.NoError(t, doc.Apply(edit))
	s.Remap(edit)
	e, _ = s.Entry("e")
	assert.Equal(t, 8, e.From)
	assert.Equal(t, 12, e.To)
	assert.Equal(t, "XXXX", string(doc.runes[e.From:e.To]))

	// 删除区间之后的内容不影响锚点
	edit = delta.Replace(14, 18, "")
	require.NoError(t, doc.Apply(edit))
	s.Remap(edit)
	e, _ = s.Entry("e")
	assert.Equal(t, 8, e.From)
	assert.Equal(t, 12, e.To)
}

func TestSurface_RemapKeepsReplacedTailInRange(t *testing.T) {
	edits := map[string]delta.Delta{
		"deleteFirst": delta.Replace(6, 8, "YY"),
		"insertFirst": {
			{Kind: delta.KindRetain, Count: 6},
			{Kind: delta.KindInsert, Text: "YY"},
			{Kind: delta.KindDelete, Count: 2},
		},
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			doc := newTextDoc("aaaaXXXXbbbb")
			s := NewSurface(doc, Options{})
			require.True(t, s.Add(rawEntry("e", 4, 8, "A", "B")))

			// 另一位作者选中区间尾部并改写
			require.NoError(t, doc.Apply(edit))
			s.Remap(edit)
			e, _ := s.Entry("e")
			assert.Equal(t, 4, e.From)
			assert.Equal(t, 8, e.To)
			assert.Equal(t, "XXYY", string(doc.runes[e.From:e.To]))

			_, ok, err := s.Resolve("e", ChoiceKeepA)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "aaaaAbbbb", doc.String())
		})
	}
}

func TestSurface_RemapCollapsedRangeStaysPending(t *testing.T) {
	doc := newTextDoc("aaaaXXXXbbbb")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 4, 8, "A", "B")))

	edit := delta.Replace(2, 10, "")
	require.NoError(t, doc.Apply(edit))
	s.Remap(edit)

	e, ok := s.Entry("e")
	require.True(t, ok)
	assert.Equal(t, 2, e.From)
	assert.Equal(t, 2, e.To)

	_, resolved, err := s.Resolve("e", ChoiceKeepA)
	require.NoError(t, err)
	assert.True(t, resolved)
	assert.Equal(t, "aaAbb", doc.String())
}

func TestSurface_ResolveKeepA(t *testing.T) {
	doc := newTextDoc("# T\nold text\n")
	var got []Resolution
	s := NewSurface(doc, Options{OnResolve: func(r Resolution) { got = append(got, r) }})
	require.True(t, s.Add(rawEntry("e", 4, 12, "alice text", "bob text")))

	res, ok, err := s.Resolve("e", ChoiceKeepA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "# T\nalice text\n", doc.String())
	assert.Equal(t, "alice text", res.Replacement)
	assert.Equal(t, 4, res.From)
	assert.Equal(t, 12, res.To)
	assert.Equal(t, ChoiceKeepA, res.Choice)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Overlays())
	require.Len(t, got, 1)
	assert.Equal(t, res, got[0])
	assert.Len(t, doc.applied, 1)
}

func TestSurface_ResolveKeepB(t *testing.T) {
	doc := newTextDoc("xxOLDyy")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 2, 5, "aaa", "b")))

	_, ok, err := s.Resolve("e", ChoiceKeepB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "xxbyy", doc.String())
}

func TestSurface_ResolveKeepBoth(t *testing.T) {
	doc := newTextDoc("[----]")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 1, 5, "one", "two")))

	res, ok, err := s.Resolve("e", ChoiceKeepBoth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one\n\n---\n\ntwo", res.Replacement)
	assert.Equal(t, "[one\n\n---\n\ntwo]", doc.String())
}

func TestSurface_ResolveKeepBothCustomSeparatorAndEmptySide(t *testing.T) {
	doc := newTextDoc("[----]")
	s := NewSurface(doc, Options{KeepBothSeparator: " | "})
	require.True(t, s.Add(rawEntry("e", 1, 5, "one", "")))
	require.True(t, s.Add(rawEntry("f", 0, 1, "<", ">")))

	res, _, err := s.Resolve("e", ChoiceKeepBoth)
	require.NoError(t, err)
	assert.Equal(t, "one", res.Replacement)

	res, _, err = s.Resolve("f", ChoiceKeepBoth)
	require.NoError(t, err)
	assert.Equal(t, "< | >", res.Replacement)
	assert.Equal(t, "< | >one]", doc.String())
}

func TestSurface_ResolveRemapsRemainingEntries(t *testing.T) {
	doc := newTextDoc("aaaa|bbbb|cccc")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("first", 0, 4, "A", "a")))
	require.True(t, s.Add(rawEntry("last", 10, 14, "C", "c")))

	_, ok, err := s.Resolve("first", ChoiceKeepA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A|bbbb|cccc", doc.String())

	e, _ := s.Entry("last")
	assert.Equal(t, 7, e.From)
	assert.Equal(t, 11, e.To)
	assert.Equal(t, "cccc", string(doc.runes[e.From:e.To]))
}

func TestSurface_ResolveUnknownIDAndChoice(t *testing.T) {
	doc := newTextDoc("abcdef")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 0, 3, "x", "y")))

	_, ok, err := s.Resolve("missing", ChoiceKeepA)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Resolve("e", Choice("keep-c"))
	assert.ErrorIs(t, err, ErrUnknownChoice)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "abcdef", doc.String())
}

func TestSurface_ResolveApplyFailureLeavesStateUntouched(t *testing.T) {
	doc := newTextDoc("abcdef")
	called := false
	s := NewSurface(doc, Options{OnResolve: func(Resolution) { called = true }})
	require.True(t, s.Add(rawEntry("e", 0, 3, "x", "y")))

	boom := errors.New("boom")
	doc.failErr = boom
	_, ok, err := s.Resolve("e", ChoiceKeepA)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.False(t, called)
	assert.Equal(t, 1, s.Len())
}

func TestSurface_RemoveIsIdempotent(t *testing.T) {
	doc := newTextDoc("abcdef")
	s := NewSurface(doc, Options{})
	require.True(t, s.Add(rawEntry("e", 0, 3, "x", "y")))

	assert.True(t, s.Remove("e"))
	assert.False(t, s.Remove("e"))
	assert.Equal(t, 0, s.Len())

	_, ok, err := s.Resolve("e", ChoiceKeepA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "abcdef", doc.String())
}

func TestSurface_OverlaysAndObservers(t *testing.T) {
	doc := newTextDoc("abcdef")
	s := NewSurface(doc, Options{})

	var seen [][]Overlay
	cancel := s.Subscribe(func(o []Overlay) { seen = append(seen, o) })

	require.True(t, s.Add(rawEntry("e", 1, 3, "x", "y")))
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 1)

	ov := seen[0][0]
	assert.Equal(t, "e", ov.EntryID)
	assert.Equal(t, "Version A · Alice", ov.VersionA.Label)
	assert.Equal(t, "Version B · Bob", ov.VersionB.Label)
	assert.Equal(t, []Action{
		{Choice: ChoiceKeepA, Label: "Keep Alice's version"},
		{Choice: ChoiceKeepB, Label: "Keep Bob's version"},
		{Choice: ChoiceKeepBoth, Label: "Keep both"},
	}, ov.Actions)

	// 锚点没变的 Remap 不通知
	s.Remap(delta.Replace(5, 5, "z"))
	assert.Len(t, seen, 1)

	s.Remap(delta.Replace(0, 0, "z"))
	require.Len(t, seen, 2)
	assert.Equal(t, 2, seen[1][0].From)

	cancel()
	s.Remove("e")
	assert.Len(t, seen, 2)
	assert.Empty(t, s.Overlays())
}
