// Package conflict decides what to do when a candidate display name
// collides with an existing active record, and generates alternative
// names. The recommendation policy is a pure function of the two files'
// stats; nothing in this package mutates state.
package conflict

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/store"
)

// ResolutionAction is a recommended way out of a collision.
type ResolutionAction string

const (
	ActionReplace    ResolutionAction = "replace"
	ActionAutoRename ResolutionAction = "auto_rename"
)

// Confidence grades a recommendation.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Recommendation pairs an action with how sure the policy is about it.
type Recommendation struct {
	Action     ResolutionAction `json:"action"`
	Confidence Confidence       `json:"confidence"`
	Reason     string           `json:"reason"`
}

// Stats is the slice of file metadata the policy looks at. Size <= 0 or an
// empty MimeType means unknown.
type Stats struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// ExistingFile summarizes the record the candidate collides with.
type ExistingFile struct {
	DisplayName string    `json:"displayName"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	Version     int       `json:"version"`
	UploadedAt  time.Time `json:"uploadedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Info is the structured outcome of a conflict check. A collision is an
// expected result represented as data, never an error.
type Info struct {
	HasConflict     bool             `json:"hasConflict"`
	Existing        *ExistingFile    `json:"existing,omitempty"`
	Incoming        *Stats           `json:"incoming,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Suggestions     []string         `json:"suggestions,omitempty"`
}

// Engine answers conflict questions against the naming index.
type Engine struct {
	store store.Store
}

// NewEngine constructs an Engine.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// CheckFileConflict reports whether candidateName collides for the user
// and, if so, the comparison and ranked recommendations.
func (e *Engine) CheckFileConflict(ctx context.Context, userID, candidateName string, incoming Stats) (*Info, error) {
	existing, err := e.store.GetByDisplayName(ctx, userID, candidateName)
	if err != nil {
		if errors.Is(err, store.ErrRecordMissing) {
			return &Info{HasConflict: false}, nil
		}
		return nil, fmt.Errorf("conflict lookup: %w", err)
	}
	info := &Info{
		HasConflict: true,
		Existing: &ExistingFile{
			DisplayName: existing.DisplayName,
			Size:        existing.Size,
			MimeType:    existing.MimeType,
			Version:     existing.Version,
			UploadedAt:  existing.UploadedAt,
			UpdatedAt:   existing.UpdatedAt,
		},
		Incoming:        &incoming,
		Recommendations: Recommend(Stats{Size: existing.Size, MimeType: existing.MimeType}, incoming),
	}
	suggestions, err := e.GenerateFilenameSuggestions(ctx, userID, candidateName)
	if err != nil {
		return nil, err
	}
	info.Suggestions = suggestions
	return info, nil
}

// Recommend applies the fixed resolution policy, first match wins:
//
//  1. incoming more than 1.5x larger -> replace (high); larger usually
//     means an upgraded copy of the same artifact.
//  2. incoming less than 0.5x the size -> auto_rename (medium); much
//     smaller usually means a different artifact.
//  3. MIME types differ -> auto_rename (high).
//  4. default -> auto_rename (medium); keeping both files is the safe
//     choice.
//
// The matched rule leads the list; auto_rename is appended as the trailing
// safe option when the primary was a replace.
func Recommend(existing, incoming Stats) []Recommendation {
	primary := primaryRecommendation(existing, incoming)
	recs := []Recommendation{primary}
	if primary.Action != ActionAutoRename {
		recs = append(recs, Recommendation{
			Action:     ActionAutoRename,
			Confidence: ConfidenceMedium,
			Reason:     "keeping both files is always safe",
		})
	}
	return recs
}

func primaryRecommendation(existing, incoming Stats) Recommendation {
	if incoming.Size > 0 && existing.Size > 0 {
		if float64(incoming.Size) > 1.5*float64(existing.Size) {
			return Recommendation{
				Action:     ActionReplace,
				Confidence: ConfidenceHigh,
				Reason:     "new file is significantly larger; likely an upgraded version",
			}
		}
		if float64(incoming.Size) < 0.5*float64(existing.Size) {
			return Recommendation{
				Action:     ActionAutoRename,
				Confidence: ConfidenceMedium,
				Reason:     "new file is much smaller; likely a different artifact",
			}
		}
	}
	if incoming.MimeType != "" && existing.MimeType != "" && incoming.MimeType != existing.MimeType {
		return Recommendation{
			Action:     ActionAutoRename,
			Confidence: ConfidenceHigh,
			Reason:     "content types differ",
		}
	}
	return Recommendation{
		Action:     ActionAutoRename,
		Confidence: ConfidenceMedium,
		Reason:     "renaming preserves both files",
	}
}

// maxSequentialProbes bounds the "(n)" counter scan before falling back to
// timestamp and random suffixes.
const maxSequentialProbes = 10000

var counterSuffix = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// splitName separates "report (2).pdf" into base "report", counter 2 and
// ext ".pdf". A name without a counter yields counter 0.
func splitName(name string) (base string, counter int, ext string) {
	ext = filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if m := counterSuffix.FindStringSubmatch(stem); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return m[1], n, ext
		}
	}
	return stem, 0, ext
}

// GenerateUniqueFilename returns a free display name derived from
// originalName. It continues an existing "(n)" counter, probes up to
// maxSequentialProbes variants, then falls back to a timestamp suffix and
// finally a short random token. Always terminates.
func (e *Engine) GenerateUniqueFilename(ctx context.Context, userID, originalName string) (string, error) {
	base, counter, ext := splitName(originalName)
	start := counter + 1
	for k := start; k < start+maxSequentialProbes; k++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, k, ext)
		exists, err := e.store.DisplayNameExists(ctx, userID, candidate)
		if err != nil {
			return "", fmt.Errorf("probe name: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	stamped := fmt.Sprintf("%s %s%s", base, time.Now().UTC().Format("20060102-150405"), ext)
	exists, err := e.store.DisplayNameExists(ctx, userID, stamped)
	if err != nil {
		return "", fmt.Errorf("probe name: %w", err)
	}
	if !exists {
		return stamped, nil
	}
	// Random token collision odds are negligible; no further probe.
	return fmt.Sprintf("%s %s-%s%s", base, time.Now().UTC().Format("20060102-150405"), randomToken(), ext), nil
}

// GenerateFilenameSuggestions returns up to five free alternatives for
// originalName: the first few "(n)" variants plus a timestamp-based and a
// date-based form. Purely advisory.
func (e *Engine) GenerateFilenameSuggestions(ctx context.Context, userID, originalName string) ([]string, error) {
	base, counter, ext := splitName(originalName)
	var out []string
	seen := make(map[string]bool)
	add := func(candidate string) error {
		if len(out) >= 5 || seen[candidate] {
			return nil
		}
		exists, err := e.store.DisplayNameExists(ctx, userID, candidate)
		if err != nil {
			return fmt.Errorf("probe name: %w", err)
		}
		if !exists {
			seen[candidate] = true
			out = append(out, candidate)
		}
		return nil
	}
	found := 0
	for k := counter + 1; k <= counter+100 && found < 3; k++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, k, ext)
		before := len(out)
		if err := add(candidate); err != nil {
			return nil, err
		}
		if len(out) > before {
			found++
		}
	}
	now := time.Now().UTC()
	if err := add(fmt.Sprintf("%s %s%s", base, now.Format("20060102-150405"), ext)); err != nil {
		return nil, err
	}
	if err := add(fmt.Sprintf("%s %s%s", base, now.Format("2006-01-02"), ext)); err != nil {
		return nil, err
	}
	return out, nil
}

func randomToken() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano()%0xffffff, 16)
	}
	return hex.EncodeToString(buf)
}
