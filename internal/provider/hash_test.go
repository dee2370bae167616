package provider

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), "gophers dig burrows")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "gophers dig burrows")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != 64 {
		t.Fatalf("dimension = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestHashEmbedderNormalized(t *testing.T) {
	e := NewHashEmbedder(32)

	vec, err := e.Embed(context.Background(), "some text with several distinct tokens")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Errorf("norm = %v, want 1.0", math.Sqrt(sum))
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder(16)

	vec, err := e.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, f := range vec {
		if f != 0 {
			t.Fatalf("vec[%d] = %v, want zero vector for empty text", i, f)
		}
	}
}

func TestHashEmbedderSharedTokensScoreHigher(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "gopher burrows")
	similar, _ := e.Embed(ctx, "the gopher digs burrows in soil")
	unrelated, _ := e.Embed(ctx, "quarterly revenue projections")

	if cos(query, similar) <= cos(query, unrelated) {
		t.Errorf("similar text scored %v, unrelated %v; want similar higher",
			cos(query, similar), cos(query, unrelated))
	}
}

func cos(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}
