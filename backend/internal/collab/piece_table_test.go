package collab

import (
	"errors"
	"testing"

	"reconcileServer/backend/internal/ot/delta"
)

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("# Intro\nhéllo")
	if got := pt.String(); got != "# Intro\nhéllo" {
		t.Fatalf("String() = %q, want %q", got, "# Intro\nhéllo")
	}
	if gotLen := pt.Len(); gotLen != 13 {
		t.Fatalf("Len() = %d, want 13", gotLen)
	}
}

func TestPieceTable_InsertMiddleKeepsPrefix(t *testing.T) {
	pt := NewPieceTable("Hello world")
	mustApply(t, pt, delta.Delta{
		{Kind: delta.KindRetain, Count: 5},
		{Kind: delta.KindInsert, Text: ","},
	})
	// 第二次插入落在第三个 piece 里，前面的 piece 不能丢
	mustApply(t, pt, delta.Delta{
		{Kind: delta.KindRetain, Count: 8},
		{Kind: delta.KindInsert, Text: "-"},
	})

	want := "Hello, w-orld"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if pt.Len() != len([]rune(want)) {
		t.Fatalf("Len() = %d, want %d", pt.Len(), len([]rune(want)))
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("Hello world")
	mustApply(t, pt, delta.Delta{
		{Kind: delta.KindRetain, Count: 5},
		{Kind: delta.KindInsert, Text: " collaborative"},
	})
	// "Hello collaborative world"，删掉 "lo collaborative w"
	mustApply(t, pt, delta.Delta{
		{Kind: delta.KindRetain, Count: 3},
		{Kind: delta.KindDelete, Count: 18},
	})

	want := "Helorld"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_ReplaceRange(t *testing.T) {
	pt := NewPieceTable("# Intro\nhello")
	mustApply(t, pt, delta.Replace(8, 13, "bonjour"))

	if got := pt.String(); got != "# Intro\nbonjour" {
		t.Fatalf("String() = %q", got)
	}
	if got := pt.Slice(2, 7); got != "Intro" {
		t.Fatalf("Slice(2,7) = %q, want %q", got, "Intro")
	}
	if got := pt.Slice(6, 10); got != "o\nbo" {
		t.Fatalf("Slice(6,10) = %q, want %q", got, "o\nbo")
	}
	if got := pt.Slice(-1, 100); got != pt.String() {
		t.Fatalf("Slice clamps, got %q", got)
	}
	if got := pt.Slice(5, 5); got != "" {
		t.Fatalf("empty Slice = %q", got)
	}
}

func TestPieceTable_InsertIntoEmpty(t *testing.T) {
	pt := NewPieceTable("")
	mustApply(t, pt, delta.Delta{{Kind: delta.KindInsert, Text: "abc"}})
	mustApply(t, pt, delta.Delta{{Kind: delta.KindRetain, Count: 3}, {Kind: delta.KindInsert, Text: "d"}})
	if got := pt.String(); got != "abcd" {
		t.Fatalf("String() = %q, want %q", got, "abcd")
	}
}

func TestPieceTable_RejectedDeltaLeavesBufferUntouched(t *testing.T) {
	pt := NewPieceTable("short")
	err := pt.Apply(delta.Delta{
		{Kind: delta.KindInsert, Text: "xx"},
		{Kind: delta.KindRetain, Count: 3},
		{Kind: delta.KindDelete, Count: 10},
	})
	if !errors.Is(err, delta.ErrOutOfRange) {
		t.Fatalf("Apply() error = %v, want ErrOutOfRange", err)
	}
	if got := pt.String(); got != "short" {
		t.Fatalf("String() = %q after rejected delta", got)
	}
	if pt.Len() != 5 {
		t.Fatalf("Len() = %d after rejected delta", pt.Len())
	}
}

func mustApply(t *testing.T, pt *PieceTable, d delta.Delta) {
	t.Helper()
	if err := pt.Apply(d); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
}
