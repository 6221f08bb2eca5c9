package ingest

import (
	"testing"
	"time"

	"github.com/framefault/recorder/internal/secmem"
	"github.com/framefault/recorder/internal/store"
)

func TestResolutionKeyDistinguishesDisplayAndSize(t *testing.T) {
	a := resolutionKey(0, 1920, 1080)
	b := resolutionKey(1, 1920, 1080)
	c := resolutionKey(0, 1280, 720)
	if a == b || a == c || b == c {
		t.Fatalf("resolutionKey collided: %q %q %q", a, b, c)
	}
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	d, err := store.Open(t.TempDir()+"/index.db", secmem.NewSecureString("pw"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenOrReuseAppSegmentReusesSameContext(t *testing.T) {
	db := openTestDB(t)
	in := &Ingestor{db: db}

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	first, err := in.openOrReuseAppSegment("com.apple.Safari", "GitHub", "", now)
	if err != nil {
		t.Fatalf("openOrReuseAppSegment: %v", err)
	}

	second, err := in.openOrReuseAppSegment("com.apple.Safari", "GitHub", "", now.Add(time.Second))
	if err != nil {
		t.Fatalf("openOrReuseAppSegment (second): %v", err)
	}
	if first != second {
		t.Fatalf("expected same app segment to be reused, got %d and %d", first, second)
	}

	third, err := in.openOrReuseAppSegment("com.apple.Terminal", "zsh", "", now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("openOrReuseAppSegment (third): %v", err)
	}
	if third == second {
		t.Fatal("expected a new app segment for a different bundle/window")
	}
}
