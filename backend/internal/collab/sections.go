package collab

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const PreambleSectionID = "preamble"

// Section 是 markdown 文档里以 ATX 标题开头的一段，[From, To) 按 rune 计
type Section struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Level   int    `json:"level"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

// SplitSections 在 `#`..`######` 标题处切分文档，第一个标题之前的内容是 preamble。
// 围栏代码块里的 # 不算标题。结果首尾相接覆盖整个文档
func SplitSections(content string) []Section {
	var (
		out     []Section
		seen    = make(map[string]int)
		pos     int
		inFence bool
	)
	total := utf8.RuneCountInString(content)

	lines := strings.SplitAfter(content, "\n")
	for _, line := range lines {
		lineLen := utf8.RuneCountInString(line)
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(strings.TrimLeft(trimmed, " "), "```") {
			inFence = !inFence
		}
		if !inFence {
			if level, heading, ok := parseHeading(trimmed); ok {
				if len(out) == 0 && pos > 0 {
					out = append(out, Section{ID: uniqueSlug(PreambleSectionID, seen), From: 0})
				}
				if len(out) > 0 {
					out[len(out)-1].To = pos
				}
				out = append(out, Section{
					ID:      uniqueSlug(slugify(heading), seen),
					Heading: heading,
					Level:   level,
					From:    pos,
				})
			}
		}
		pos += lineLen
	}

	if len(out) == 0 {
		return []Section{{ID: PreambleSectionID, From: 0, To: total}}
	}
	out[len(out)-1].To = total
	return out
}

// SectionAt 返回包含 pos 的 section；pos 在文末时归到最后一段
func SectionAt(sections []Section, pos int) (Section, bool) {
	if len(sections) == 0 {
		return Section{}, false
	}
	for _, s := range sections {
		if pos >= s.From && pos < s.To {
			return s, true
		}
	}
	last := sections[len(sections)-1]
	if pos >= last.To {
		return last, true
	}
	return sections[0], true
}

// FindSection 按 id 查找
func FindSection(sections []Section, id string) (Section, bool) {
	for _, s := range sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	heading := strings.TrimSpace(rest)
	// 去掉可选的结尾 ###
	if trimmed := strings.TrimRight(heading, "#"); trimmed != heading {
		if trimmed == "" || strings.HasSuffix(trimmed, " ") {
			heading = strings.TrimSpace(trimmed)
		}
	}
	return level, heading, true
}

// slugify NFKC 归一化后转小写，字母数字保留，其余折叠成 '-'
func slugify(heading string) string {
	s := strings.ToLower(norm.NFKC.String(heading))
	var sb strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			sb.WriteRune(r)
			dash = false
		case sb.Len() > 0 && !dash:
			sb.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(sb.String(), "-")
	if slug == "" {
		return "section"
	}
	return slug
}

func uniqueSlug(slug string, seen map[string]int) string {
	seen[slug]++
	if n := seen[slug]; n > 1 {
		return slug + "-" + strconv.Itoa(n)
	}
	return slug
}
