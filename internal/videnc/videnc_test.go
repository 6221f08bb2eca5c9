package videnc

import "testing"

func TestPresentationTimeIsExactIntegerArithmetic(t *testing.T) {
	cases := []struct {
		frameCount int64
		want       int64
	}{
		{0, 0},
		{1, 20},
		{30, 600}, // exactly one second at 30fps, 600 units/sec timescale
		{150, 3000},
	}
	for _, c := range cases {
		if got := presentationTime(c.frameCount); got != c.want {
			t.Errorf("presentationTime(%d) = %d, want %d", c.frameCount, got, c.want)
		}
	}
}

func TestFramesFlushedToDiskBeforeFragmentIsZero(t *testing.T) {
	e := &Encoder{frameCount: 10, fragmentSeen: false}
	if got := e.FramesFlushedToDisk(); got != 0 {
		t.Fatalf("FramesFlushedToDisk() = %d before any fragment, want 0", got)
	}
}

func TestFramesFlushedToDiskConservativeLowerBound(t *testing.T) {
	e := &Encoder{frameCount: 10, fragmentSeen: true}
	if got := e.FramesFlushedToDisk(); got != 8 {
		t.Fatalf("FramesFlushedToDisk() = %d, want 8 (frameCount-2)", got)
	}
}

func TestFramesFlushedToDiskNeverNegative(t *testing.T) {
	e := &Encoder{frameCount: 1, fragmentSeen: true}
	if got := e.FramesFlushedToDisk(); got != 0 {
		t.Fatalf("FramesFlushedToDisk() = %d, want 0 (clamped)", got)
	}
}
