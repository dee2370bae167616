// Package assembler merges knowledge-unit and interaction-record candidates
// into a bounded context for a query. Knowledge units are ranked by
// similarity, interactions by recency; both land on one priority scale
// before interleaving, with relevance taking precedence over recency by
// default (tunable through the assembly config).
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/calder-labs/engram/internal/config"
	"github.com/calder-labs/engram/internal/index"
	"github.com/calder-labs/engram/internal/storage"
)

// ItemKind distinguishes context item origins.
type ItemKind string

const (
	KindKnowledge   ItemKind = "knowledge"
	KindInteraction ItemKind = "interaction"
)

// Item is one serialized candidate with its merged priority.
type Item struct {
	Kind     ItemKind
	ID       string
	Text     string
	Priority float64
}

// Context is the assembled, bounded result.
type Context struct {
	Items []Item // selected items in priority order
	Text  string // serialized form, at most the configured char budget
}

// UnitSearcher is the slice of the unit index the assembler needs.
type UnitSearcher interface {
	Search(queryEmbedding []float32, k int) ([]index.ScoredUnit, error)
	SearchKeyword(query string, k int) ([]index.ScoredUnit, error)
}

// RecentLister is the slice of the interaction store the assembler needs.
type RecentLister interface {
	GetRecent(limit int) ([]storage.InteractionRecord, error)
}

// Assembler builds bounded contexts from the unit index and the
// interaction store.
type Assembler struct {
	units   UnitSearcher
	records RecentLister
	cfg     config.Assembly
}

// New creates an Assembler with the given candidate sources and limits.
func New(units UnitSearcher, records RecentLister, cfg config.Assembly) *Assembler {
	return &Assembler{units: units, records: records, cfg: cfg}
}

// Assemble retrieves up to MaxItems knowledge units and MaxItems recent
// interactions, merges them on a common priority scale, and serializes the
// selection under the char budget, dropping lowest-priority items first and
// never truncating mid-item. When queryEmbedding is nil the knowledge side
// falls back to keyword search. If any interactions exist, at least one is
// included (budget permitting) to preserve conversational continuity.
//
// The result is deterministic for identical store state and inputs.
func (a *Assembler) Assemble(query string, queryEmbedding []float32) (Context, error) {
	var units []index.ScoredUnit
	var err error
	if len(queryEmbedding) > 0 {
		units, err = a.units.Search(queryEmbedding, a.cfg.MaxItems)
	} else {
		units, err = a.units.SearchKeyword(query, a.cfg.MaxItems)
	}
	if err != nil {
		return Context{}, fmt.Errorf("searching knowledge units: %w", err)
	}

	records, err := a.records.GetRecent(a.cfg.MaxItems)
	if err != nil {
		return Context{}, fmt.Errorf("listing recent interactions: %w", err)
	}

	items := make([]Item, 0, len(units)+len(records))
	for _, u := range units {
		items = append(items, Item{
			Kind:     KindKnowledge,
			ID:       u.ID,
			Text:     formatUnit(u),
			Priority: clamp01(float64(u.Score)),
		})
	}
	// Rank-based recency priority, scaled so interactions outrank knowledge
	// only when the recency weight allows it.
	n := len(records)
	for i, rec := range records {
		items = append(items, Item{
			Kind:     KindInteraction,
			ID:       rec.ID,
			Text:     formatRecord(rec),
			Priority: a.cfg.RecencyWeight * float64(n-i) / float64(n),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})

	selected := a.selectWithinBudget(items, n > 0)

	parts := make([]string, len(selected))
	for i, it := range selected {
		parts[i] = it.Text
	}
	return Context{Items: selected, Text: strings.Join(parts, "\n\n")}, nil
}

// selectWithinBudget picks items in priority order while the serialized
// form fits in MaxChars. Items that don't fit are skipped whole. When
// interactions exist, the highest-priority interaction is reserved first so
// knowledge never crowds out all conversational context.
func (a *Assembler) selectWithinBudget(items []Item, haveInteractions bool) []Item {
	const sep = "\n\n"
	remaining := a.cfg.MaxChars

	reserved := -1
	if haveInteractions {
		for i, it := range items {
			if it.Kind == KindInteraction {
				reserved = i
				break
			}
		}
	}

	taken := make([]bool, len(items))
	count := 0
	if reserved >= 0 && len(items[reserved].Text) <= remaining {
		taken[reserved] = true
		remaining -= len(items[reserved].Text)
		count++
	}

	for i, it := range items {
		if taken[i] {
			continue
		}
		cost := len(it.Text)
		if count > 0 {
			cost += len(sep)
		}
		if cost > remaining {
			continue
		}
		taken[i] = true
		remaining -= cost
		count++
	}

	selected := make([]Item, 0, count)
	for i, it := range items {
		if taken[i] {
			selected = append(selected, it)
		}
	}
	return selected
}

func formatUnit(u index.ScoredUnit) string {
	return fmt.Sprintf("[Knowledge score=%.2f source=%s]\n%s", u.Score, u.SourceID, u.Content)
}

func formatRecord(rec storage.InteractionRecord) string {
	return fmt.Sprintf("[Interaction %s]\nQ: %s\nA: %s",
		rec.Timestamp.UTC().Format(time.RFC3339), rec.Query, rec.Response)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
