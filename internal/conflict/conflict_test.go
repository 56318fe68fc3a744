package conflict

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/store"
)

func seed(t *testing.T, s *store.MemoryStore, user string, names ...string) {
	t.Helper()
	for i, name := range names {
		_, err := s.AddFile(context.Background(), store.AddFileParams{
			UserID:       user,
			DisplayName:  name,
			OriginalName: name,
			InternalName: fmt.Sprintf("obj-%s-%d", user, i),
			Size:         1000,
			MimeType:     "application/pdf",
		})
		require.NoError(t, err)
	}
}

func TestRecommendPolicy(t *testing.T) {
	cases := []struct {
		name       string
		existing   Stats
		incoming   Stats
		action     ResolutionAction
		confidence Confidence
	}{
		{"much larger wins replace", Stats{Size: 1000, MimeType: "application/pdf"}, Stats{Size: 1600, MimeType: "application/pdf"}, ActionReplace, ConfidenceHigh},
		{"boundary 1.5x is not larger", Stats{Size: 1000}, Stats{Size: 1500}, ActionAutoRename, ConfidenceMedium},
		{"much smaller keeps both", Stats{Size: 1000}, Stats{Size: 400}, ActionAutoRename, ConfidenceMedium},
		{"mime mismatch", Stats{Size: 1000, MimeType: "application/pdf"}, Stats{Size: 1000, MimeType: "image/png"}, ActionAutoRename, ConfidenceHigh},
		{"size beats mime", Stats{Size: 1000, MimeType: "application/pdf"}, Stats{Size: 2000, MimeType: "image/png"}, ActionReplace, ConfidenceHigh},
		{"unknown sizes fall through to mime", Stats{MimeType: "application/pdf"}, Stats{Size: 2000, MimeType: "image/png"}, ActionAutoRename, ConfidenceHigh},
		{"nothing known", Stats{}, Stats{}, ActionAutoRename, ConfidenceMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recs := Recommend(tc.existing, tc.incoming)
			require.NotEmpty(t, recs)
			assert.Equal(t, tc.action, recs[0].Action)
			assert.Equal(t, tc.confidence, recs[0].Confidence)
			if recs[0].Action == ActionReplace {
				require.Len(t, recs, 2)
				assert.Equal(t, ActionAutoRename, recs[1].Action)
			} else {
				assert.Len(t, recs, 1)
			}
		})
	}
}

func TestCheckFileConflict(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s)
	seed(t, s, "u1", "report.pdf")

	info, err := e.CheckFileConflict(context.Background(), "u1", "other.pdf", Stats{Size: 10})
	require.NoError(t, err)
	assert.False(t, info.HasConflict)
	assert.Nil(t, info.Existing)

	info, err = e.CheckFileConflict(context.Background(), "u1", "report.pdf", Stats{Size: 5000, MimeType: "application/pdf"})
	require.NoError(t, err)
	require.True(t, info.HasConflict)
	require.NotNil(t, info.Existing)
	assert.Equal(t, "report.pdf", info.Existing.DisplayName)
	assert.Equal(t, int64(1000), info.Existing.Size)
	require.NotEmpty(t, info.Recommendations)
	assert.Equal(t, ActionReplace, info.Recommendations[0].Action)
	assert.NotEmpty(t, info.Suggestions)
	for _, sug := range info.Suggestions {
		exists, err := s.DisplayNameExists(context.Background(), "u1", sug)
		require.NoError(t, err)
		assert.False(t, exists, "suggestion %q must be free", sug)
	}

	// Collisions are scoped per user.
	info, err = e.CheckFileConflict(context.Background(), "u2", "report.pdf", Stats{})
	require.NoError(t, err)
	assert.False(t, info.HasConflict)
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in      string
		base    string
		counter int
		ext     string
	}{
		{"report.pdf", "report", 0, ".pdf"},
		{"report (2).pdf", "report", 2, ".pdf"},
		{"report (2) (3).pdf", "report (2)", 3, ".pdf"},
		{"no-ext (7)", "no-ext", 7, ""},
		{"archive.tar.gz", "archive.tar", 0, ".gz"},
		{"(1).txt", "(1)", 0, ".txt"},
		{"spaces in name (12).md", "spaces in name", 12, ".md"},
	}
	for _, tc := range cases {
		base, counter, ext := splitName(tc.in)
		assert.Equal(t, tc.base, base, tc.in)
		assert.Equal(t, tc.counter, counter, tc.in)
		assert.Equal(t, tc.ext, ext, tc.in)
	}
}

func TestGenerateUniqueFilename(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s)
	seed(t, s, "u1", "report.pdf", "report (1).pdf", "report (2).pdf")

	got, err := e.GenerateUniqueFilename(context.Background(), "u1", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report (3).pdf", got)
}

func TestGenerateUniqueFilenameContinuesCounter(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s)
	seed(t, s, "u1", "report (4).pdf")

	got, err := e.GenerateUniqueFilename(context.Background(), "u1", "report (4).pdf")
	require.NoError(t, err)
	assert.Equal(t, "report (5).pdf", got)
}

func TestGenerateUniqueFilenameDenseNamespace(t *testing.T) {
	if testing.Short() {
		t.Skip("dense namespace probe is slow")
	}
	s := store.NewMemoryStore()
	e := NewEngine(s)
	names := make([]string, 0, maxSequentialProbes)
	names = append(names, "report.pdf")
	for k := 1; k < maxSequentialProbes; k++ {
		names = append(names, fmt.Sprintf("report (%d).pdf", k))
	}
	seed(t, s, "u1", names...)

	got, err := e.GenerateUniqueFilename(context.Background(), "u1", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("report (%d).pdf", maxSequentialProbes), got)
}

func TestGenerateFilenameSuggestions(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s)
	seed(t, s, "u1", "notes.txt", "notes (1).txt")

	suggestions, err := e.GenerateFilenameSuggestions(context.Background(), "u1", "notes.txt")
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	assert.LessOrEqual(t, len(suggestions), 5)
	assert.Equal(t, "notes (2).txt", suggestions[0])

	seen := make(map[string]bool)
	for _, sug := range suggestions {
		assert.False(t, seen[sug], "duplicate suggestion %q", sug)
		seen[sug] = true
		exists, err := s.DisplayNameExists(context.Background(), "u1", sug)
		require.NoError(t, err)
		assert.False(t, exists, "suggestion %q must be free", sug)
	}
}
