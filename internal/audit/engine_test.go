package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"story-pipeline-backend/internal/audit"
	"story-pipeline-backend/internal/models"
)

type fakeSource struct {
	name       string
	candidates []models.AuditCandidate
	err        error
	calls      int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(ctx context.Context, target string, limit int) ([]models.AuditCandidate, error) {
	f.calls++
	return f.candidates, f.err
}

func candidate(title, image string) models.AuditCandidate {
	return models.AuditCandidate{Title: title, ImageURL: image, SourceURL: "https://ref.example.com/" + image}
}

func TestEngine_VerifiedAboveThreshold(t *testing.T) {
	src := &fakeSource{name: "reference", candidates: []models.AuditCandidate{
		candidate("Ada Lovelace portrait", "ada.jpg"),
		candidate("Charles Babbage", "babbage.jpg"),
	}}
	engine := audit.NewEngine([]audit.Source{src}, audit.EngineConfig{
		Weights: map[string]float64{"reference": 0.82},
	})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusVerified, result.Status)
	assert.InDelta(t, 0.82, result.Score, 1e-9)
	assert.Equal(t, []string{"ada.jpg"}, result.SelectedReferenceImages)
	assert.Equal(t, []string{"https://ref.example.com/ada.jpg"}, result.SelectedSourceURLs)
	assert.Empty(t, result.ReviewReferenceImages)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, 2, result.Candidates[0].MatchedTokens)
	assert.Equal(t, "reference", result.Candidates[0].Source)
	assert.GreaterOrEqual(t, result.Candidates[0].Score, result.Candidates[1].Score)
}

func TestEngine_NeedsReviewBelowThreshold(t *testing.T) {
	src := &fakeSource{name: "reference", candidates: []models.AuditCandidate{
		candidate("Lovelace family crest", "crest.jpg"),
		candidate("Ada, a novel", "novel.jpg"),
		candidate("Victorian mathematics", "math.jpg"),
		candidate("Lovelace bridge", "bridge.jpg"),
	}}
	engine := audit.NewEngine([]audit.Source{src}, audit.EngineConfig{ReviewLimit: 2})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusNeedsReview, result.Status)
	assert.Less(t, result.Score, 0.6)
	assert.Empty(t, result.SelectedReferenceImages)
	assert.Equal(t, []string{"crest.jpg", "novel.jpg"}, result.ReviewReferenceImages)
	assert.Len(t, result.ReviewSourceURLs, 2)
}

func TestEngine_FailedWithoutCandidates(t *testing.T) {
	broken := &fakeSource{name: "wikipedia", err: errors.New("connection refused")}
	empty := &fakeSource{name: "commons"}
	engine := audit.NewEngine([]audit.Source{broken, empty}, audit.EngineConfig{})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusFailed, result.Status)
	assert.Zero(t, result.Score)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, "wikipedia", result.SourceErrors[0].Source)
	assert.Contains(t, result.SourceErrors[0].Message, "connection refused")
	assert.Equal(t, 1, empty.calls)
}

func TestEngine_SourceErrorDoesNotAbort(t *testing.T) {
	broken := &fakeSource{name: "web_search", err: errors.New("quota exceeded")}
	good := &fakeSource{name: "wikipedia", candidates: []models.AuditCandidate{candidate("Ada Lovelace", "ada.jpg")}}
	engine := audit.NewEngine([]audit.Source{broken, good}, audit.EngineConfig{})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusVerified, result.Status)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, "web_search", result.SourceErrors[0].Source)
}

func TestEngine_TiesPreferEarlierSource(t *testing.T) {
	first := &fakeSource{name: "wikipedia", candidates: []models.AuditCandidate{candidate("Ada Lovelace", "wiki.jpg")}}
	second := &fakeSource{name: "commons", candidates: []models.AuditCandidate{candidate("Ada Lovelace", "commons.jpg")}}
	engine := audit.NewEngine([]audit.Source{first, second}, audit.EngineConfig{})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", []string{"commons", "wikipedia"}, 0.6)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "commons.jpg", result.Candidates[0].ImageURL, "requested order defines priority")
	assert.Equal(t, []string{"commons.jpg"}, result.SelectedReferenceImages)
}

func TestEngine_SelectsNamedSources(t *testing.T) {
	wiki := &fakeSource{name: "wikipedia"}
	commons := &fakeSource{name: "commons"}
	engine := audit.NewEngine([]audit.Source{wiki, commons}, audit.EngineConfig{})

	result, err := engine.Audit(context.Background(), "Ada", []string{"wikipedia", "web_search"}, 0.6)
	require.NoError(t, err)

	assert.Equal(t, 1, wiki.calls)
	assert.Equal(t, 0, commons.calls)
	require.Len(t, result.SourceErrors, 1)
	assert.Equal(t, "web_search", result.SourceErrors[0].Source)
}

func TestEngine_DeduplicatesImages(t *testing.T) {
	a := &fakeSource{name: "wikipedia", candidates: []models.AuditCandidate{candidate("Ada Lovelace", "same.jpg")}}
	b := &fakeSource{name: "commons", candidates: []models.AuditCandidate{candidate("Ada Lovelace", "same.jpg"), {Title: "no image"}}}
	engine := audit.NewEngine([]audit.Source{a, b}, audit.EngineConfig{})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "wikipedia", result.Candidates[0].Source)
}

func TestEngine_EmptyTarget(t *testing.T) {
	engine := audit.NewEngine(nil, audit.EngineConfig{})
	_, err := engine.Audit(context.Background(), "  ", nil, 0.6)
	assert.ErrorIs(t, err, audit.ErrEmptyTarget)
}

func TestEngine_StatusMatchesThreshold(t *testing.T) {
	titles := []string{"Ada Lovelace", "Ada", "Lovelace", "Someone else"}
	for _, title := range titles {
		for _, min := range []float64{0, 0.3, 0.5, 0.6, 1} {
			src := &fakeSource{name: "wikipedia", candidates: []models.AuditCandidate{{Title: title, ImageURL: "x.jpg"}}}
			engine := audit.NewEngine([]audit.Source{src}, audit.EngineConfig{})

			result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, min)
			require.NoError(t, err)

			top := result.Candidates[0].Score
			if result.Status == models.AuditStatusVerified {
				assert.GreaterOrEqual(t, top, min, "%s at %v", title, min)
			} else {
				assert.Equal(t, models.AuditStatusNeedsReview, result.Status)
				assert.Less(t, top, min, "%s at %v", title, min)
			}
		}
	}
}

func TestScore(t *testing.T) {
	tokens := audit.Tokenize("Ada King, Countess of Lovelace")
	assert.Equal(t, []string{"ada", "king", "countess", "of", "lovelace"}, tokens)

	matched, score := audit.Score(tokens, models.AuditCandidate{
		Title:     "Portrait of Ada",
		SourceURL: "https://en.wikipedia.org/wiki/Ada_Lovelace",
	}, 1.0)
	assert.Equal(t, 3, matched)
	assert.InDelta(t, 0.6, score, 1e-9)

	matched, score = audit.Score(nil, models.AuditCandidate{Title: "anything"}, 1.0)
	assert.Zero(t, matched)
	assert.Zero(t, score)

	_, score = audit.Score([]string{"ada"}, models.AuditCandidate{Title: "Ada"}, 1.5)
	assert.Equal(t, 1.0, score)
}

func TestEngine_DuplicateImageKeepsBestCopy(t *testing.T) {
	web := &fakeSource{name: "web_search", candidates: []models.AuditCandidate{
		candidate("Victorian portrait", "shared.jpg"),
	}}
	wiki := &fakeSource{name: "wikipedia", candidates: []models.AuditCandidate{
		candidate("Ada Lovelace", "shared.jpg"),
	}}
	engine := audit.NewEngine([]audit.Source{web, wiki}, audit.EngineConfig{
		Weights: map[string]float64{"web_search": 1, "wikipedia": 1},
	})

	result, err := engine.Audit(context.Background(), "Ada Lovelace", nil, 0.6)
	require.NoError(t, err)

	assert.Equal(t, models.AuditStatusVerified, result.Status)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Ada Lovelace", result.Candidates[0].Title)
	assert.Equal(t, "wikipedia", result.Candidates[0].Source)
	assert.Equal(t, []string{"shared.jpg"}, result.SelectedReferenceImages)
}
