package search

import (
	"testing"
	"time"
)

func TestCompositeScoreMatchesRankingExample(t *testing.T) {
	now := time.Date(2026, time.March, 22, 0, 0, 0, 0, time.UTC)
	createdAt := now.AddDate(0, 0, -15) // 15 days ago

	terms := []string{"foo", "bar", "baz"}
	windowName := "foo bar conference"
	appName := "Unrelated App"
	browserURL := "baz.example.com"

	got := compositeScore(-0.50, createdAt, now, terms, windowName, appName, browserURL, DefaultWeights())
	// normalizedBM25 = -(-0.50) / (1 + |-0.50|) = 0.5 / 1.5 = 0.3333...
	// recency = 0.2 * max(0, 1 - 15/30) = 0.2 * 0.5 = 0.1
	// metadata = 0.1 * min(1.0, 0.3*2 + 0.2*0 + 0.5*1) = 0.1 * 1.0 = 0.1
	want := 0.5/1.5 + 0.1 + 0.1
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("compositeScore = %v, want %v", got, want)
	}
}

func TestCountHitsClampsMetadataBoost(t *testing.T) {
	wh, ah, uh := countHits([]string{"a", "b", "c"}, "a b c title", "a app", "c url")
	if wh != 3 || ah != 1 || uh != 1 {
		t.Fatalf("countHits = (%d,%d,%d), want (3,1,1)", wh, ah, uh)
	}

	now := time.Date(2026, time.March, 22, 0, 0, 0, 0, time.UTC)
	got := compositeScore(0, now, now, []string{"a", "b", "c"}, "a b c title", "a app", "c url", DefaultWeights())
	// recency = 0.2 * 1 (age 0)
	// metadata = 0.1 * min(1.0, 0.3*3 + 0.2*1 + 0.5*1) = 0.1 * min(1.0, 1.6) = 0.1
	want := 0.2 + 0.1
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("compositeScore = %v, want %v (metadata boost clamped to 1.0)", got, want)
	}
}
