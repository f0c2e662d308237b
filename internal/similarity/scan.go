package similarity

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/org/credcore/internal/metrics"
)

// DefaultMaxItems bounds a single Scan; callers paginate larger vaults.
const DefaultMaxItems = 500

// ErrTooManyItems is returned when a scan exceeds MaxItems.
var ErrTooManyItems = errors.New("too many items for one similarity scan")

// Item is one decrypted secret. Secret is never copied into a Report.
type Item struct {
	ID     string
	Secret string
}

// Pair is two items whose secrets are similar or share a pattern.
type Pair struct {
	A             string  `json:"a"`
	B             string  `json:"b"`
	Similarity    float64 `json:"similarity"`
	CommonPattern bool    `json:"common_pattern"`
}

// Report lists duplicate groups (identical secrets) and similar pairs.
type Report struct {
	Scanned    int        `json:"scanned"`
	Duplicates [][]string `json:"duplicates"`
	Similar    []Pair     `json:"similar"`
}

// Fingerprinter maps a secret to a keyed digest so duplicates can be
// grouped without keeping plaintexts as map keys.
type Fingerprinter interface {
	Sum(plaintext string) string
}

// Options tune an Analyzer.
type Options struct {
	Threshold float64
	MaxItems  int
	Workers   int
}

// Analyzer runs bounded, cancellable pairwise scans.
type Analyzer struct {
	fp   Fingerprinter
	opts Options
}

func NewAnalyzer(fp Fingerprinter, opts Options) *Analyzer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Analyzer{fp: fp, opts: opts}
}

// MaxItems is the largest input Scan accepts.
func (a *Analyzer) MaxItems() int { return a.opts.MaxItems }

// Scan groups exact duplicates and finds similar or common-pattern pairs
// among items. Duplicates are reported once as a group, not as pairs.
func (a *Analyzer) Scan(ctx context.Context, items []Item) (*Report, error) {
	if len(items) > a.opts.MaxItems {
		return nil, ErrTooManyItems
	}
	start := time.Now()
	defer func() { metrics.ObserveSimilarityScan(time.Since(start)) }()

	groups := map[string][]string{}
	var order []string
	digests := make([]string, len(items))
	for i, it := range items {
		d := a.fp.Sum(it.Secret)
		digests[i] = d
		if _, ok := groups[d]; !ok {
			order = append(order, d)
		}
		groups[d] = append(groups[d], it.ID)
	}
	rep := &Report{Scanned: len(items), Duplicates: [][]string{}, Similar: []Pair{}}
	for _, d := range order {
		if len(groups[d]) > 1 {
			rep.Duplicates = append(rep.Duplicates, groups[d])
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := range items {
		g.Go(func() error {
			var found []Pair
			for j := i + 1; j < len(items); j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if digests[i] == digests[j] {
					continue
				}
				sim := Similarity(items[i].Secret, items[j].Secret)
				pattern := HasCommonPattern(items[i].Secret, items[j].Secret)
				if sim >= a.opts.Threshold || pattern {
					found = append(found, Pair{A: items[i].ID, B: items[j].ID, Similarity: sim, CommonPattern: pattern})
				}
			}
			if len(found) > 0 {
				mu.Lock()
				rep.Similar = append(rep.Similar, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(rep.Similar, func(i, j int) bool {
		if rep.Similar[i].A != rep.Similar[j].A {
			return rep.Similar[i].A < rep.Similar[j].A
		}
		return rep.Similar[i].B < rep.Similar[j].B
	})
	return rep, nil
}
