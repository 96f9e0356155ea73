package collab

import (
	"reconcileServer/backend/internal/reconcile"
	"reconcileServer/backend/internal/resolution"
)

// authorSnapshot 某作者最近一次编辑后该 section 的全文
type authorSnapshot struct {
	authorID   string
	authorName string
	atMs       int64
	text       string
}

// sectionVersions: sectionID -> authorID -> 最近快照
type sectionVersions map[string]map[string]authorSnapshot

// record 记录快照，并顺手丢掉窗口之外的旧快照
func (v sectionVersions) record(sectionID string, snap authorSnapshot, cutoffMs int64) {
	byAuthor := v[sectionID]
	if byAuthor == nil {
		byAuthor = make(map[string]authorSnapshot)
		v[sectionID] = byAuthor
	}
	byAuthor[snap.authorID] = snap
	for id, s := range byAuthor {
		if s.atMs < cutoffMs {
			delete(byAuthor, id)
		}
	}
}

func (v sectionVersions) clear(sectionID string) {
	delete(v, sectionID)
}

// latestOther 返回窗口内、除 authorID 之外最近一次编辑的快照
func (v sectionVersions) latestOther(sectionID, authorID string, sinceMs int64) (authorSnapshot, bool) {
	var (
		best  authorSnapshot
		found bool
	)
	for id, s := range v[sectionID] {
		if id == authorID || s.atMs < sinceMs {
			continue
		}
		if !found || s.atMs > best.atMs || (s.atMs == best.atMs && s.authorID < best.authorID) {
			best, found = s, true
		}
	}
	return best, found
}

// entryFromTrigger 把 Trigger 转成待决条目：
// A = 另一位作者最近一次编辑后的 section 文本，B = 当前 section 文本，锚定整个 section
func entryFromTrigger(id string, trig *reconcile.Trigger, sec Section, current authorSnapshot,
	versions sectionVersions, windowMs int64) (resolution.RawEntry, bool) {
	other, ok := versions.latestOther(sec.ID, current.authorID, trig.TriggeredAtMs-windowMs)
	if !ok || other.text == current.text {
		return resolution.RawEntry{}, false
	}
	ts := trig.TriggeredAtMs
	return resolution.RawEntry{
		ID:        id,
		SectionID: sec.ID,
		From:      sec.From,
		To:        sec.To,
		VersionA: &resolution.RawVersion{
			AuthorID:   other.authorID,
			AuthorName: other.authorName,
			Content:    other.text,
		},
		VersionB: &resolution.RawVersion{
			AuthorID:   current.authorID,
			AuthorName: current.authorName,
			Content:    current.text,
		},
		TriggeredAtMs: &ts,
	}, true
}
