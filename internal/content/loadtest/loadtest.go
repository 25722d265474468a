// Package loadtest drives a content store with concurrent editors.
//
// Seed builds a studio graph (services, sub-services, directors) and leaves
// projects and director works as pending drafts. RunEditors publishes those
// drafts from many goroutines at once, the way several editors would, and
// Verify then checks that every relationship in the published graph is
// closed in both directions.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/alibi-studio/refsync/internal/content/publish"
	"github.com/alibi-studio/refsync/internal/content/schema"
	"github.com/alibi-studio/refsync/internal/content/store"
)

// Params sizes the seeded graph.
type Params struct {
	Services         int
	SubServices      int
	Directors        int
	WorksPerDirector int
	Projects         int

	// RefsPerProject is the most services (and sub-services) one project
	// lists.
	RefsPerProject int

	// Seed makes the graph reproducible.
	Seed int64
}

// DefaultParams is a small studio.
func DefaultParams() Params {
	return Params{
		Services:         8,
		SubServices:      16,
		Directors:        5,
		WorksPerDirector: 4,
		Projects:         60,
		RefsPerProject:   3,
		Seed:             42,
	}
}

// Fixture describes a seeded store.
type Fixture struct {
	Params Params

	// Drafts lists the ids with a pending draft, in publish order.
	Drafts []string
}

// LatencyStats captures publish latency across all editors.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Durations  []time.Duration
}

// Publisher runs a named document action. *publish.Studio implements it.
type Publisher interface {
	Run(ctx context.Context, action, id string) (*publish.Outcome, error)
}

// Seed populates db according to p.
func Seed(ctx context.Context, db *store.DB, p Params) (*Fixture, error) {
	rng := rand.New(rand.NewSource(p.Seed))
	fx := &Fixture{Params: p}

	services := make([]string, p.Services)
	for i := range services {
		services[i] = fmt.Sprintf("svc-%03d", i)
		if err := create(ctx, db, services[i], schema.TypeService, fmt.Sprintf("Service %d", i)); err != nil {
			return nil, err
		}
	}
	subServices := make([]string, p.SubServices)
	for i := range subServices {
		subServices[i] = fmt.Sprintf("sub-%03d", i)
		if err := create(ctx, db, subServices[i], schema.TypeSubService, fmt.Sprintf("Sub-service %d", i)); err != nil {
			return nil, err
		}
	}
	directors := make([]string, p.Directors)
	for i := range directors {
		directors[i] = fmt.Sprintf("dir-%03d", i)
		if err := create(ctx, db, directors[i], schema.TypeDirector, fmt.Sprintf("Director %d", i)); err != nil {
			return nil, err
		}
	}

	for i := 0; i < p.Directors*p.WorksPerDirector; i++ {
		doc := schema.New(fmt.Sprintf("work-%04d", i), schema.TypeDirectorWork)
		doc.Set("title", fmt.Sprintf("Work %d", i))
		doc.Set(schema.FieldDirector, schema.SingleReference(directors[i%len(directors)]))
		if err := saveDraft(ctx, db, doc, fx); err != nil {
			return nil, err
		}
	}

	for i := 0; i < p.Projects; i++ {
		doc := schema.New(fmt.Sprintf("proj-%04d", i), schema.TypeProject)
		doc.Set("title", fmt.Sprintf("Project %d", i))
		doc.Set(schema.FieldServices, schema.KeyedReferences(pick(rng, services, p.RefsPerProject)))
		doc.Set(schema.FieldSubServices, schema.KeyedReferences(pick(rng, subServices, p.RefsPerProject)))
		if err := saveDraft(ctx, db, doc, fx); err != nil {
			return nil, err
		}
	}

	rng.Shuffle(len(fx.Drafts), func(i, j int) { fx.Drafts[i], fx.Drafts[j] = fx.Drafts[j], fx.Drafts[i] })
	return fx, nil
}

func create(ctx context.Context, db *store.DB, id string, typ schema.Type, title string) error {
	doc := schema.New(id, typ)
	doc.Set("title", title)
	if _, err := db.Create(ctx, doc); err != nil {
		return fmt.Errorf("failed to seed %s: %w", id, err)
	}
	return nil
}

func saveDraft(ctx context.Context, db *store.DB, doc *schema.Document, fx *Fixture) error {
	if _, err := db.SaveDraft(ctx, doc); err != nil {
		return fmt.Errorf("failed to seed draft %s: %w", doc.ID, err)
	}
	fx.Drafts = append(fx.Drafts, doc.ID)
	return nil
}

// pick returns up to n distinct ids from pool, at least one when pool is
// not empty.
func pick(rng *rand.Rand, pool []string, n int) []string {
	if len(pool) == 0 || n <= 0 {
		return nil
	}
	k := 1 + rng.Intn(min(n, len(pool)))
	idx := rng.Perm(len(pool))[:k]
	sort.Ints(idx)
	out := make([]string, k)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

// RunEditors publishes ids through runner from editors concurrent
// goroutines. Editor i publishes ids i, i+editors, i+2*editors and so on.
func RunEditors(ctx context.Context, runner Publisher, ids []string, editors int) (*LatencyStats, error) {
	if editors <= 0 {
		editors = 1
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		errCount  int
	)
	for e := 0; e < editors; e++ {
		wg.Add(1)
		go func(editor int) {
			defer wg.Done()

			local := make([]time.Duration, 0, len(ids)/editors+1)
			failed := 0
			for i := editor; i < len(ids); i += editors {
				if ctx.Err() != nil {
					break
				}
				start := time.Now()
				_, err := runner.Run(ctx, publish.ActionPublish, ids[i])
				local = append(local, time.Since(start))
				if err != nil {
					failed++
				}
			}

			mu.Lock()
			durations = append(durations, local...)
			errCount += failed
			mu.Unlock()
		}(e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("no publishes completed")
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errCount
	return stats, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
		Durations:  sorted,
	}
}

// Print writes the statistics to w.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Publish Latency:\n")
	fmt.Fprintf(w, "  Publishes:     %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
