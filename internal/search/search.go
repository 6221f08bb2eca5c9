package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/framefault/recorder/internal/imagecache"
	"github.com/framefault/recorder/internal/logging"
	"github.com/framefault/recorder/internal/store"
)

var log = logging.L("search")

// FrameExtractor decodes a single frame's image bytes out of its owning
// video segment. The decode itself is an external collaborator (it needs
// the video codec stack); this package only resolves which segment/index
// to ask for and caches the result.
type FrameExtractor func(videoID int64, frameIndex int) ([]byte, error)

// SearchResult is one ranked, metadata-enriched search hit.
type SearchResult struct {
	FrameID     int64
	SegmentID   int64
	Snippet     string
	BM25        float64
	Composite   float64
	AppBundleID string
	WindowName  string
	BrowserURL  string
	CreatedAt   time.Time
}

// Weights configures the recency and metadata boost terms of the
// composite score.
type Weights struct {
	RecencyWeight       float64
	RecencyHalfLifeDays float64
	MetadataWeight      float64
	// FTS column weights passed to sqlite's bm25(): main OCR text, UI
	// chrome text, window title.
	ColumnWeights [3]float64
	// MinimumRelevanceScore drops results whose composite score falls
	// below it (spec §4.8 pipeline step 5).
	MinimumRelevanceScore float64
}

// DefaultWeights mirrors the recorder's default configuration.
func DefaultWeights() Weights {
	return Weights{
		RecencyWeight:         0.2,
		RecencyHalfLifeDays:   30,
		MetadataWeight:        0.1,
		ColumnWeights:         [3]float64{1, 0.5, 2},
		MinimumRelevanceScore: 0.1,
	}
}

// Searcher runs ranked full-text queries against the database engine and
// is the UI-facing data source that owns the bounded frame-image cache.
type Searcher struct {
	db     *store.DB
	w      Weights
	images *imagecache.Cache
}

func New(db *store.DB, w Weights) *Searcher {
	return &Searcher{db: db, w: w}
}

// WithImageCache attaches a bounded image cache backed by extract, the
// decoder for this platform's video codec. maxItems/maxBytes are the
// config-driven ceilings (see config.Config.ImageCacheMaxItems/MaxBytes).
func (s *Searcher) WithImageCache(maxItems int, maxBytes int64, extract FrameExtractor) error {
	cache, err := imagecache.New(maxItems, maxBytes, func(k imagecache.Key) ([]byte, error) {
		return extract(k.A, int(k.B))
	})
	if err != nil {
		return fmt.Errorf("search: attach image cache: %w", err)
	}
	s.images = cache
	return nil
}

// FrameImage returns the decoded image for one result's frame, caching it
// for subsequent requests (re-scrolling the same result, repeated
// thumbnails). Returns an error if no image cache was attached.
func (s *Searcher) FrameImage(videoID int64, frameIndex int) ([]byte, error) {
	if s.images == nil {
		return nil, fmt.Errorf("search: no image cache attached")
	}
	return s.images.Get(imagecache.Key{A: videoID, B: int64(frameIndex)})
}

// Search parses raw, runs it against FTS5 and returns results ordered by
// composite score (recency- and metadata-boosted BM25), plus the total
// match count for pagination.
func (s *Searcher) Search(raw string, limit, offset int, now time.Time) ([]SearchResult, int, error) {
	q := ParseQuery(raw)
	expr := q.FTSExpr()
	if expr == "" {
		return nil, 0, nil
	}

	ftsTotal, err := s.db.FTSCount(expr)
	if err != nil {
		return nil, 0, fmt.Errorf("search: count: %w", err)
	}
	hasPostFilter := q.AppID != "" || q.After != nil || q.Before != nil

	// Overfetch from FTS (bm25 order) so filters (app/date) and composite
	// re-ranking can run over a wider candidate window than the page size.
	hits, err := s.db.FTSQuery(expr, s.w.ColumnWeights, limit+offset+200)
	if err != nil {
		return nil, 0, fmt.Errorf("search: fts query: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	matchTerms := q.MatchTerms()
	for _, h := range hits {
		frame, err := s.db.GetFrame(h.FrameID)
		if err != nil {
			continue // frame may have been deleted since indexing
		}
		createdAt := time.UnixMilli(frame.CreatedAt)

		seg, err := s.db.GetAppSegment(h.SegmentID)
		if err != nil {
			continue
		}

		if q.AppID != "" && !strings.EqualFold(seg.BundleID, q.AppID) {
			continue
		}
		if q.After != nil && createdAt.Before(*q.After) {
			continue
		}
		if q.Before != nil && createdAt.After(*q.Before) {
			continue
		}

		windowName := seg.WindowName.String
		browserURL := seg.BrowserURL.String

		composite := compositeScore(h.BM25, createdAt, now, matchTerms, windowName, seg.BundleID, browserURL, s.w)

		results = append(results, SearchResult{
			FrameID:     h.FrameID,
			SegmentID:   h.SegmentID,
			Snippet:     h.Snippet,
			BM25:        h.BM25,
			Composite:   composite,
			AppBundleID: seg.BundleID,
			WindowName:  windowName,
			BrowserURL:  browserURL,
			CreatedAt:   createdAt,
		})
	}

	total := ftsTotal
	if hasPostFilter {
		// FTSCount has no way to apply the app/date filters (they're
		// resolved in Go against the joined frame/segment rows), so under
		// those filters the true total is however many of the overfetched
		// candidates survived filtering above.
		total = len(results)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Composite > results[j].Composite })

	// Pipeline step 5: drop results below the minimum relevance score.
	// This is a ranking cut, not a filter, so it does not affect total.
	filtered := results[:0]
	for _, r := range results {
		if r.Composite >= s.w.MinimumRelevanceScore {
			filtered = append(filtered, r)
		}
	}
	results = filtered

	if _, err := s.db.RecordMetric(store.MetricSearchPerformed, now.UnixMilli(),
		fmt.Sprintf(`{"resultCount":%d}`, total)); err != nil {
		log.Error("record search_performed metric failed", "error", err)
	}

	if offset >= len(results) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end], total, nil
}

// compositeScore implements: bm25Normalized + recencyWeight*max(0, 1 -
// ageDays/halfLifeDays) + metadataWeight*min(1.0, 0.3*windowHits +
// 0.2*appHits + 0.5*urlHits).
//
// SQLite's bm25() returns lower-is-better and unbounded, usually negative;
// normalize to [0,1] by negating and dividing by 1+|rank| so this term
// stays comparable in scale to the recency/metadata boosts instead of
// swamping them.
func compositeScore(bm25 float64, createdAt, now time.Time, terms []string, windowName, appName, browserURL string, w Weights) float64 {
	normalizedBM25 := -bm25 / (1 + math.Abs(bm25))

	ageDays := now.Sub(createdAt).Hours() / 24
	recency := math.Max(0, 1-ageDays/w.RecencyHalfLifeDays)

	windowHits, appHits, urlHits := countHits(terms, windowName, appName, browserURL)
	metadata := math.Min(1.0, 0.3*float64(windowHits)+0.2*float64(appHits)+0.5*float64(urlHits))

	return normalizedBM25 + w.RecencyWeight*recency + w.MetadataWeight*metadata
}

func countHits(terms []string, windowName, appName, browserURL string) (windowHits, appHits, urlHits int) {
	lw, la, lu := strings.ToLower(windowName), strings.ToLower(appName), strings.ToLower(browserURL)
	for _, t := range terms {
		lt := strings.ToLower(t)
		if lt == "" {
			continue
		}
		if strings.Contains(lw, lt) {
			windowHits++
		}
		if strings.Contains(la, lt) {
			appHits++
		}
		if strings.Contains(lu, lt) {
			urlHits++
		}
	}
	return
}

// GetSuggestions returns deduplicated, sorted, prefix-matching tokens drawn
// from snippets of a prefix* FTS query.
func (s *Searcher) GetSuggestions(prefix string, limit int) ([]string, error) {
	expr := escapeFTSWord(prefix) + "*"
	hits, err := s.db.FTSQuery(expr, s.w.ColumnWeights, 50)
	if err != nil {
		return nil, fmt.Errorf("search: suggestions: %w", err)
	}

	seen := make(map[string]struct{})
	var out []string
	lowerPrefix := strings.ToLower(prefix)
	for _, h := range hits {
		for _, tok := range strings.Fields(normalizeSnippet(h.Snippet)) {
			if _, ok := seen[tok]; ok {
				continue
			}
			if !strings.HasPrefix(tok, lowerPrefix) {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}

	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func normalizeSnippet(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return ' '
	}, s)
	return s
}
