package phash

import "testing"

func solidFrame(w, h int, b, g, r byte) Frame {
	bpr := w * 4
	pix := make([]byte, bpr*h)
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = b
		pix[i+1] = g
		pix[i+2] = r
		pix[i+3] = 0xff
	}
	return Frame{Width: w, Height: h, BytesPerRow: bpr, Pix: pix}
}

func TestHashSolidColorIsZero(t *testing.T) {
	f := solidFrame(64, 64, 10, 20, 30)
	if got := Hash(f); got != 0 {
		t.Fatalf("Hash(solid) = %d, want 0", got)
	}
}

func TestSimilarityIdenticalFramesIsOne(t *testing.T) {
	f := solidFrame(64, 64, 50, 60, 70)
	if got := Similarity(f, f); got != 1 {
		t.Fatalf("Similarity(f,f) = %f, want 1", got)
	}
}

func TestSimilarityMismatchedDimensionsIsZero(t *testing.T) {
	a := solidFrame(64, 64, 0, 0, 0)
	b := solidFrame(32, 32, 0, 0, 0)
	if got := Similarity(a, b); got != 0 {
		t.Fatalf("Similarity with mismatched dims = %f, want 0", got)
	}
}

func TestSimilarityDifferentColorsIsZero(t *testing.T) {
	a := solidFrame(64, 64, 0, 0, 0)
	b := solidFrame(64, 64, 255, 255, 255)
	if got := Similarity(a, b); got != 0 {
		t.Fatalf("Similarity(black,white) = %f, want 0", got)
	}
}

func TestShouldKeepNoReferenceIsTrue(t *testing.T) {
	f := solidFrame(10, 10, 1, 2, 3)
	if !ShouldKeep(f, nil, 0.98) {
		t.Fatal("ShouldKeep with nil reference should be true")
	}
}

func TestShouldKeepDimensionMismatchIsTrue(t *testing.T) {
	a := solidFrame(100, 100, 0, 0, 0)
	b := solidFrame(200, 200, 0, 0, 0)
	if !ShouldKeep(a, &b, 1.0) {
		t.Fatal("ShouldKeep with mismatched dimensions should be true regardless of threshold")
	}
}

func TestShouldKeepDedupThresholdBoundary(t *testing.T) {
	f1 := solidFrame(64, 64, 10, 10, 10)
	f2 := solidFrame(64, 64, 10, 10, 10)

	if !ShouldKeep(f1, nil, 0.98) {
		t.Fatal("first frame with no reference should be kept")
	}
	if ShouldKeep(f2, &f1, 0.98) {
		t.Fatal("identical second frame should be dropped at threshold 0.98")
	}
}
