package resolution

import "fmt"

// Overlay 是交给宿主界面渲染的视图：两个版本各自带作者名，外加三个操作
type Overlay struct {
	EntryID       string      `json:"entryId"`
	SectionID     string      `json:"sectionId"`
	From          int         `json:"from"`
	To            int         `json:"to"`
	VersionA      VersionView `json:"versionA"`
	VersionB      VersionView `json:"versionB"`
	Actions       []Action    `json:"actions"`
	TriggeredAtMs *int64      `json:"triggeredAtMs,omitempty"`
}

type VersionView struct {
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Label      string `json:"label"`
	Content    string `json:"content"`
}

type Action struct {
	Choice Choice `json:"choice"`
	Label  string `json:"label"`
}

func buildOverlay(e Entry) Overlay {
	return Overlay{
		EntryID:   e.ID,
		SectionID: e.SectionID,
		From:      e.From,
		To:        e.To,
		VersionA:  versionView("A", e.VersionA),
		VersionB:  versionView("B", e.VersionB),
		Actions: []Action{
			{Choice: ChoiceKeepA, Label: fmt.Sprintf("Keep %s's version", e.VersionA.AuthorName)},
			{Choice: ChoiceKeepB, Label: fmt.Sprintf("Keep %s's version", e.VersionB.AuthorName)},
			{Choice: ChoiceKeepBoth, Label: "Keep both"},
		},
		TriggeredAtMs: e.TriggeredAtMs,
	}
}

func versionView(slot string, v Version) VersionView {
	return VersionView{
		AuthorID:   v.AuthorID,
		AuthorName: v.AuthorName,
		Label:      fmt.Sprintf("Version %s · %s", slot, v.AuthorName),
		Content:    v.Content,
	}
}
