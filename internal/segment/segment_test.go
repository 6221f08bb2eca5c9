package segment

import (
	"testing"

	"github.com/framefault/recorder/internal/wal"
)

func TestNewWriterStartsEmpty(t *testing.T) {
	root := t.TempDir()
	walMgr := wal.NewManager(root + "/wal")
	w, err := New(walMgr, 1, root+"/out")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w.State() != StateEmpty {
		t.Fatalf("State() = %v, want StateEmpty", w.State())
	}
}

func TestCancelFromEmptyIsAllowed(t *testing.T) {
	root := t.TempDir()
	walMgr := wal.NewManager(root + "/wal")
	w, err := New(walMgr, 2, root+"/out")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if w.State() != StateCancelled {
		t.Fatalf("State() = %v, want StateCancelled", w.State())
	}
}

func TestCancelTwiceIsRejected(t *testing.T) {
	root := t.TempDir()
	walMgr := wal.NewManager(root + "/wal")
	w, err := New(walMgr, 3, root+"/out")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Cancel(); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := w.Cancel(); err == nil {
		t.Fatal("second Cancel should fail: backward transitions are disallowed")
	}
}

func TestFinalizeFromEmptyIsRejected(t *testing.T) {
	root := t.TempDir()
	walMgr := wal.NewManager(root + "/wal")
	w, err := New(walMgr, 4, root+"/out")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Finalize(); err == nil {
		t.Fatal("Finalize from StateEmpty should fail: state machine requires Recording first")
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{
		StateEmpty:     "empty",
		StateRecording: "recording",
		StateFinalized: "finalized",
		StateCancelled: "cancelled",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
