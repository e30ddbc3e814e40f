package relay

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorLogAppendAndOrder(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	for i := 0; i < 5; i++ {
		l.Append(fmt.Errorf("err %d", i), LabelOrigin("test"), "", "")
	}
	if l.Len() != 5 {
		t.Fatalf("len = %d, want 5", l.Len())
	}
	records := l.Records()
	for i, rec := range records {
		if want := fmt.Sprintf("err %d", i); rec.Err.Error() != want {
			t.Errorf("record %d = %q, want %q", i, rec.Err.Error(), want)
		}
	}
}

func TestErrorLogEvictsOldest(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{MaxRecords: 3})
	for i := 0; i < 5; i++ {
		l.Append(fmt.Errorf("err %d", i), LabelOrigin("test"), "", "")
	}
	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	first, err := l.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if first.Err.Error() != "err 2" {
		t.Errorf("oldest surviving record = %q, want err 2", first.Err.Error())
	}
}

func TestErrorLogGetOutOfRange(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	l.Append(errors.New("only"), LabelOrigin("test"), "", "")

	for _, index := range []int{-1, 1, 100} {
		if _, err := l.Get(index); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Get(%d) = %v, want ErrIndexOutOfRange", index, err)
		}
	}
}

func TestErrorLogClearAtShiftsIndices(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	for i := 0; i < 3; i++ {
		l.Append(fmt.Errorf("err %d", i), LabelOrigin("test"), "", "")
	}
	if err := l.ClearAt(1); err != nil {
		t.Fatal(err)
	}
	rec, err := l.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Err.Error() != "err 2" {
		t.Errorf("record 1 after removal = %q, want err 2", rec.Err.Error())
	}
	if err := l.ClearAt(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("ClearAt(5) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestErrorLogPresenceHook(t *testing.T) {
	var degraded []bool
	l := NewErrorLog(ErrorLogOpts{OnChange: func(d bool) { degraded = append(degraded, d) }})

	l.Append(errors.New("a"), LabelOrigin("test"), "", "")
	l.Append(errors.New("b"), LabelOrigin("test"), "", "")
	// Clearing resets the indicator even while a record remains.
	if err := l.ClearAt(0); err != nil {
		t.Fatal(err)
	}
	if err := l.ClearAt(0); err != nil {
		t.Fatal(err)
	}

	want := []bool{true, true, false, false}
	if len(degraded) != len(want) {
		t.Fatalf("notifications = %v, want %v", degraded, want)
	}
	for i := range want {
		if degraded[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", degraded, want)
		}
	}
}

func TestErrorLogClearAll(t *testing.T) {
	var last bool
	l := NewErrorLog(ErrorLogOpts{OnChange: func(d bool) { last = d }})
	l.Append(errors.New("a"), LabelOrigin("test"), "", "")
	l.ClearAll()
	if l.Len() != 0 {
		t.Errorf("len = %d, want 0", l.Len())
	}
	if last {
		t.Error("presence should reset to nominal after ClearAll")
	}
}

func TestErrorLogSweep(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	l.Append(errors.New("old"), LabelOrigin("test"), "", "")
	l.records[0].Time = time.Now().UTC().Add(-100 * time.Hour)
	l.Append(errors.New("fresh"), LabelOrigin("test"), "", "")

	if removed := l.Sweep(72 * time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	rec, _ := l.Get(0)
	if rec.Err.Error() != "fresh" {
		t.Errorf("surviving record = %q, want fresh", rec.Err.Error())
	}
}

func TestErrorLogList(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	pages := l.List(1800)
	if len(pages) != 1 || !strings.Contains(pages[0], "empty") {
		t.Fatalf("pages = %v", pages)
	}

	for i := 0; i < 4; i++ {
		l.Append(fmt.Errorf("err %d", i), LabelOrigin("startup"), "", "")
	}
	pages = l.List(1800)
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	if !strings.Contains(pages[0], "Number of stored errors: 4") {
		t.Errorf("summary missing count: %q", pages[0])
	}
	if !strings.Contains(pages[0], "0:") || !strings.Contains(pages[0], "3:") {
		t.Errorf("indices missing: %q", pages[0])
	}

	// A tiny budget forces pagination.
	pages = l.List(120)
	if len(pages) < 2 {
		t.Errorf("pages = %d, want pagination under small budget", len(pages))
	}
}

func TestErrorLogListPagesHonorBudget(t *testing.T) {
	l := NewErrorLog(ErrorLogOpts{})
	// The rendered line for this record alone exceeds the budget.
	l.Append(errors.New(strings.Repeat("x", 180)), LabelOrigin("startup"), "", "")
	l.Append(errors.New("short"), LabelOrigin("startup"), "", "")

	pages := l.List(120)
	for i, page := range pages {
		if len(page) > 120 {
			t.Errorf("page %d length = %d, exceeds budget", i, len(page))
		}
	}
	if joined := strings.Join(pages, "\n"); !strings.Contains(joined, "short") {
		t.Errorf("records lost across pages: %q", joined)
	}
}

func TestDetailRendersOrigin(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", errors.New("inner"))
	rec := ErrorRecord{
		Err:          wrapped,
		Time:         time.Now().UTC().Add(-time.Minute),
		Origin:       CommandOrigin("ada", "chan-1", "run", "https://example.com/jump"),
		OriginalText: "/run python",
		Attachment:   "prog.py",
	}
	out := Detail(rec)
	for _, want := range []string{"User: ada", "Command: run", "https://example.com/jump", "outer: inner", "inner", "/run python", "prog.py"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail missing %q:\n%s", want, out)
		}
	}

	out = Detail(ErrorRecord{Err: errors.New("x"), Time: time.Now(), Origin: LabelOrigin("startup")})
	if !strings.Contains(out, "Caught in: startup") {
		t.Errorf("detail missing label origin:\n%s", out)
	}
}
