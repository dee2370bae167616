// Package index persists knowledge units and serves nearest-neighbor and
// keyword lookups over them. Vector search is a brute-force cosine scan,
// which keeps ranking exact; swap in an ANN-backed implementation behind the
// same contract if unit counts ever make the scan noticeable.
package index

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Unit is one bounded chunk of ingested reference text. Embedding may be
// nil when the embedding call failed at ingest time; such units are
// keyword-searchable only.
type Unit struct {
	ID        string
	SourceID  string
	Content   string
	Embedding []float32
	Position  int // chunk offset within the originating source
	Metadata  map[string]any
	CreatedAt time.Time
}

// ScoredUnit is a Unit with a similarity score attached.
type ScoredUnit struct {
	Unit
	Score float32
}

// Index stores knowledge units in the knowledge_units table of the shared
// engine database. Writes go through the store's single connection, so each
// operation is serialized relative to other writers.
type Index struct {
	db *sql.DB
}

// New wraps an existing database handle. The knowledge_units table must
// already exist (created via the store's migrations).
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// ReplaceSourceUnits atomically swaps all units of a source: old units are
// deleted and new ones inserted in one transaction, so readers observe
// either the full old set or the full new set.
func (ix *Index) ReplaceSourceUnits(sourceID string, units []Unit) error {
	if sourceID == "" {
		return fmt.Errorf("replace units: empty source id")
	}

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM knowledge_units WHERE source_id = ?", sourceID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting stale units for %s: %w", sourceID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO knowledge_units (id, source_id, content, embedding, position, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, u := range units {
		var blob []byte
		if len(u.Embedding) > 0 {
			blob = encodeFloat32s(u.Embedding)
		}
		metaJSON, err := json.Marshal(orEmpty(u.Metadata))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshalling metadata for %s: %w", u.ID, err)
		}
		createdAt := u.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(u.ID, sourceID, u.Content, blob, u.Position, string(metaJSON), createdAt.Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting unit %s: %w", u.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteSourceUnits removes all units of a source and returns how many
// were removed.
func (ix *Index) DeleteSourceUnits(sourceID string) (int, error) {
	res, err := ix.db.Exec("DELETE FROM knowledge_units WHERE source_id = ?", sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting units for %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// idScore holds only the ID and score during the scan phase of Search.
// Full unit rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs a brute-force cosine similarity scan over all embedded
// units, returning up to k units ordered by descending similarity. Units
// without an embedding never appear in vector results.
func (ix *Index) Search(queryEmbedding []float32, k int) ([]ScoredUnit, error) {
	if k <= 0 || len(queryEmbedding) == 0 {
		return nil, nil
	}

	queryNorm := norm(queryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := ix.db.Query("SELECT id, embedding FROM knowledge_units WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("querying unit embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer avoids per-row allocations during the scan.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if len(blob) == 0 {
			continue
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(queryEmbedding, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	units, err := ix.unitsByIDs(topIDs)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredUnit, len(units))
	for i, u := range units {
		results[i] = ScoredUnit{Unit: u, Score: scores[u.ID]}
	}
	sortByScore(results)
	return results, nil
}

// SearchKeyword ranks units by normalized token overlap with the query
// text. It serves as the lexical fallback when query embedding fails, and
// it is the only path to units that lack an embedding.
func (ix *Index) SearchKeyword(query string, k int) ([]ScoredUnit, error) {
	if k <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	rows, err := ix.db.Query("SELECT id, content FROM knowledge_units")
	if err != nil {
		return nil, fmt.Errorf("querying unit contents: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		score := overlapScore(queryTokens, content)
		if score <= 0 {
			continue
		}
		if h.Len() < k {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	units, err := ix.unitsByIDs(topIDs)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredUnit, len(units))
	for i, u := range units {
		results[i] = ScoredUnit{Unit: u, Score: scores[u.ID]}
	}
	sortByScore(results)
	return results, nil
}

// Count returns the total number of stored units.
func (ix *Index) Count() (int, error) {
	var count int
	err := ix.db.QueryRow("SELECT COUNT(*) FROM knowledge_units").Scan(&count)
	return count, err
}

// CountBySource returns the number of units produced from one source.
func (ix *Index) CountBySource(sourceID string) (int, error) {
	var count int
	err := ix.db.QueryRow("SELECT COUNT(*) FROM knowledge_units WHERE source_id = ?", sourceID).Scan(&count)
	return count, err
}

func (ix *Index) unitsByIDs(ids []string) ([]Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, source_id, content, embedding, position, metadata, created_at
		FROM knowledge_units WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanUnit(rows *sql.Rows) (Unit, error) {
	var u Unit
	var blob []byte
	var metaJSON, createdAt string
	if err := rows.Scan(&u.ID, &u.SourceID, &u.Content, &blob, &u.Position, &metaJSON, &createdAt); err != nil {
		return Unit{}, fmt.Errorf("scanning unit: %w", err)
	}
	if len(blob) > 0 {
		emb, err := decodeFloat32s(blob)
		if err != nil {
			return Unit{}, fmt.Errorf("decoding embedding for %s: %w", u.ID, err)
		}
		u.Embedding = emb
	}
	if err := json.Unmarshal([]byte(metaJSON), &u.Metadata); err != nil {
		return Unit{}, fmt.Errorf("parsing metadata for %s: %w", u.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Unit{}, fmt.Errorf("parsing created_at for %s: %w", u.ID, err)
	}
	u.CreatedAt = t
	return u, nil
}

// sortByScore sorts ScoredUnits by Score descending. Used for small slices (top-K).
func sortByScore(results []ScoredUnit) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-rune fragments.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) > 1 {
			tokens[field] = struct{}{}
		}
	}
	return tokens
}

// overlapScore is the fraction of query tokens present in the content.
func overlapScore(queryTokens map[string]struct{}, content string) float32 {
	contentTokens := tokenize(content)
	if len(contentTokens) == 0 {
		return 0
	}
	var hits int
	for tok := range queryTokens {
		if _, ok := contentTokens[tok]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(queryTokens))
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it to avoid
// per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm); aNorm is precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used to track
// top-K candidates during scans.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
