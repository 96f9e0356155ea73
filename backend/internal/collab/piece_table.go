package collab

import (
	"strings"

	"reconcileServer/backend/internal/ot/delta"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int
	length int
}

type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
	length   int
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int { return pt.length }

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.runesOf(p)))
	}
	return sb.String()
}

func (pt *PieceTable) Slice(from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > pt.length {
		to = pt.length
	}
	if from >= to {
		return ""
	}
	var sb strings.Builder
	cur := 0
	for _, p := range pt.pieces {
		start, end := cur, cur+p.length
		cur = end
		if end <= from {
			continue
		}
		if start >= to {
			break
		}
		rs := pt.runesOf(p)
		lo, hi := 0, p.length
		if from > start {
			lo = from - start
		}
		if to < end {
			hi = to - start
		}
		sb.WriteString(string(rs[lo:hi]))
	}
	return sb.String()
}

// Apply 先整体校验，再逐个 op 修改 piece 列表
func (pt *PieceTable) Apply(d delta.Delta) error {
	if err := delta.Validate(d, pt.length); err != nil {
		return err
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			n := pt.insert(pos, op.Text)
			pos += n
		case delta.KindDelete:
			pt.delete(pos, op.Count)
		}
	}
	return nil
}

func (pt *PieceTable) runesOf(p piece) []rune {
	if p.buf == bufOriginal {
		return pt.original[p.offset : p.offset+p.length]
	}
	return pt.add[p.offset : p.offset+p.length]
}

func (pt *PieceTable) insert(pos int, text string) int {
	rs := []rune(text)
	if len(rs) == 0 {
		return 0
	}
	newPiece := piece{buf: bufAdd, offset: len(pt.add), length: len(rs)}
	pt.add = append(pt.add, rs...)
	pt.length += len(rs)

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return len(rs)
	}

	// 只拆目标 piece，左右两段为空时省略
	cur := pt.pieces[idx]
	newPieces := make([]piece, 0, len(pt.pieces)+2)
	newPieces = append(newPieces, pt.pieces[:idx]...)
	if offset > 0 {
		newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	newPieces = append(newPieces, newPiece)
	newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset})
	newPieces = append(newPieces, pt.pieces[idx+1:]...)
	pt.pieces = newPieces
	return len(rs)
}

func (pt *PieceTable) delete(pos, count int) {
	remain := count
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		// 本轮实际要删多少
		take := cur.length - offset
		if take > remain {
			take = remain
		}
		leftLen := offset
		rightLen := cur.length - offset - take

		repl := make([]piece, 0, 2)
		if leftLen > 0 {
			repl = append(repl, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
		}
		if rightLen > 0 {
			repl = append(repl, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
		}
		newPieces := make([]piece, 0, len(pt.pieces)+1)
		newPieces = append(newPieces, pt.pieces[:idx]...)
		newPieces = append(newPieces, repl...)
		newPieces = append(newPieces, pt.pieces[idx+1:]...)
		pt.pieces = newPieces

		remain -= take
		pt.length -= take
		// 下一轮从左段之后的 piece 开始
		if leftLen > 0 {
			idx++
		}
		offset = 0
	}
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
