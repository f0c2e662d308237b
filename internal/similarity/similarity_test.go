package similarity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/credcore/internal/crypto"
)

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"héllo", "hello", 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Levenshtein(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
		assert.Equal(t, tc.want, Levenshtein(tc.b, tc.a), "symmetry %q vs %q", tc.b, tc.a)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("abc", "abc"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 1-3.0/7.0, Similarity("kitten", "sitting"), 1e-9)
	assert.GreaterOrEqual(t, Similarity("Password1", "Password2"), 0.8)
}

func TestAreSimilar(t *testing.T) {
	assert.True(t, AreSimilar("Summer2024!", "Summer2025!", 0))
	assert.False(t, AreSimilar("Summer2024!", "Winter#Frost", 0))
	assert.False(t, AreSimilar("abcd", "abce", 0.9))
	assert.True(t, AreSimilar("abcd", "abce", 0.75))
}

func TestHasCommonPattern(t *testing.T) {
	assert.True(t, HasCommonPattern("Password1", "Password2"))
	assert.True(t, HasCommonPattern("password1", "password22"))
	assert.True(t, HasCommonPattern("Company2023", "Company2024"))
	assert.False(t, HasCommonPattern("abc1", "abc2xyz"))
	assert.False(t, HasCommonPattern("ab1", "ab2345678"), "short base with low similarity")
	assert.False(t, HasCommonPattern("Tr0ub4dor", "correcthorse"))
}

func newAnalyzer(t *testing.T, opts Options) *Analyzer {
	t.Helper()
	fp, err := crypto.NewFingerprinter("similarity-tests-key-0123456789a")
	require.NoError(t, err)
	t.Cleanup(fp.Close)
	return NewAnalyzer(fp, opts)
}

func TestScan(t *testing.T) {
	a := newAnalyzer(t, Options{Workers: 2})
	items := []Item{
		{ID: "a", Secret: "Winter2024!"},
		{ID: "b", Secret: "Winter2024!"},
		{ID: "c", Secret: "Winter2025!"},
		{ID: "d", Secret: "q7#Lm-unrelated-XZ"},
		{ID: "e", Secret: "Winter2024!"},
	}
	rep, err := a.Scan(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Scanned)
	require.Len(t, rep.Duplicates, 1)
	assert.Equal(t, []string{"a", "b", "e"}, rep.Duplicates[0])

	var pairs []string
	for _, p := range rep.Similar {
		pairs = append(pairs, p.A+p.B)
		assert.NotEqual(t, "d", p.A)
		assert.NotEqual(t, "d", p.B)
	}
	assert.ElementsMatch(t, []string{"ac", "bc", "ce"}, pairs)
}

func TestScanBounded(t *testing.T) {
	a := newAnalyzer(t, Options{MaxItems: 3})
	items := make([]Item, 4)
	_, err := a.Scan(context.Background(), items)
	assert.ErrorIs(t, err, ErrTooManyItems)
}

func TestScanCancelled(t *testing.T) {
	a := newAnalyzer(t, Options{Workers: 1})
	items := make([]Item, 50)
	for i := range items {
		items[i] = Item{ID: fmt.Sprint(i), Secret: fmt.Sprintf("secret-%03d", i)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Scan(ctx, items)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanEmpty(t *testing.T) {
	rep, err := newAnalyzer(t, Options{}).Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rep.Duplicates)
	assert.Empty(t, rep.Similar)
}
