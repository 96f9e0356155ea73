package delta

import "unicode/utf8"

// Bias 决定恰好落在插入点上的位置往哪边走
type Bias int

const (
	// BiasBackward：插入发生在 pos 上时，pos 留在插入内容之前
	BiasBackward Bias = -1
	// BiasForward：插入发生在 pos 上时，pos 移到插入内容之后
	BiasForward Bias = 1
)

// MapPosition 把旧文档中的位置 pos 映射到 d 作用之后的新文档中。
// 相邻的 insert/delete（中间没有 retain）合并成一个替换区间 [start,end)，与两者的先后顺序无关：
//   - 区间之前的 pos：按区间的净长度平移
//   - 纯插入（start==end）恰好落在 pos 上：由 bias 决定在插入内容之前还是之后
//   - pos == start：落到新内容起点；pos == end：落到新内容终点
//   - start < pos < end：BiasForward 落到新内容终点，BiasBackward 落到起点
func MapPosition(d Delta, pos int, bias Bias) int {
	if pos < 0 {
		return 0
	}
	// old / cur：旧文档与新文档中的对应位置；循环中始终 pos >= old
	old, cur := 0, 0
	for i := 0; i < len(d); {
		if d[i].Kind == KindRetain {
			if pos < old+d[i].Count {
				return cur + pos - old
			}
			old += d[i].Count
			cur += d[i].Count
			i++
			continue
		}

		deleted, inserted := 0, 0
		for ; i < len(d) && d[i].Kind != KindRetain; i++ {
			switch d[i].Kind {
			case KindDelete:
				deleted += d[i].Count
			case KindInsert:
				inserted += utf8.RuneCountInString(d[i].Text)
			}
		}
		start, end := old, old+deleted
		switch {
		case deleted == 0 && pos == start:
			if bias == BiasForward {
				return cur + inserted
			}
			return cur
		case pos == start:
			return cur
		case pos < end:
			if bias == BiasForward {
				return cur + inserted
			}
			return cur
		}
		old = end
		cur += inserted
	}
	return cur + pos - old
}
