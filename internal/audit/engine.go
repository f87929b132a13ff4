// Package audit scores reference images from several public sources against
// a character name and decides whether a match is trustworthy enough to reuse.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/observability"
)

// Source names accepted in the audit source list.
const (
	SourceWebSearch = "web_search"
	SourceWikipedia = "wikipedia"
	SourceCommons   = "commons"
)

var ErrEmptyTarget = errors.New("audit target name is empty")

// Source fetches candidate reference images for a target name.
type Source interface {
	Name() string
	Search(ctx context.Context, target string, limit int) ([]models.AuditCandidate, error)
}

// SourceError is a failure of one source; the audit continues without it.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("audit source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

type EngineConfig struct {
	// CandidatesPerSource is passed to each source as its result limit.
	CandidatesPerSource int
	// ReviewLimit caps the candidates surfaced for manual review.
	ReviewLimit int
	// Weights multiplies a source's raw token score. Missing sources weigh 1.
	Weights map[string]float64
	Logger  *slog.Logger
}

// DefaultWeights trusts curated references fully and general web search slightly less.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		SourceWebSearch: 0.95,
		SourceWikipedia: 1.0,
		SourceCommons:   1.0,
	}
}

type Engine struct {
	sources     []Source
	perSource   int
	reviewLimit int
	weights     map[string]float64
	logger      *slog.Logger
}

func NewEngine(sources []Source, cfg EngineConfig) *Engine {
	if cfg.CandidatesPerSource <= 0 {
		cfg.CandidatesPerSource = 5
	}
	if cfg.ReviewLimit <= 0 {
		cfg.ReviewLimit = 5
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		sources:     sources,
		perSource:   cfg.CandidatesPerSource,
		reviewLimit: cfg.ReviewLimit,
		weights:     cfg.Weights,
		logger:      cfg.Logger,
	}
}

type sourceResult struct {
	candidates []models.AuditCandidate
	err        error
}

// Audit queries the named sources (all registered sources when names is
// empty) and classifies the best candidate against minConfidence. Source
// failures are recorded on the result, never returned.
func (e *Engine) Audit(ctx context.Context, target string, names []string, minConfidence float64) (*models.IdentityAuditResult, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrEmptyTarget
	}

	ctx, span := observability.StartSpan(ctx, "audit.audit", attribute.String("audit.target", target))
	defer span.End()

	selected, missing := e.selectSources(names)
	result := &models.IdentityAuditResult{
		TargetName: target,
		Candidates: []models.AuditCandidate{},
	}
	for _, name := range missing {
		e.recordSourceError(result, &SourceError{Source: name, Err: errors.New("source not configured")})
	}

	results := make([]sourceResult, len(selected))
	var wg sync.WaitGroup
	for i, src := range selected {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			found, err := src.Search(ctx, target, e.perSource)
			results[i] = sourceResult{candidates: found, err: err}
		}(i, src)
	}
	wg.Wait()

	targetTokens := Tokenize(target)
	var ranked []rankedCandidate
	for i, src := range selected {
		if err := results[i].err; err != nil {
			e.recordSourceError(result, &SourceError{Source: src.Name(), Err: err})
			continue
		}
		for j, c := range results[i].candidates {
			if c.ImageURL == "" {
				continue
			}
			c.Source = src.Name()
			c.MatchedTokens, c.Score = Score(targetTokens, c, e.weight(src.Name()))
			ranked = append(ranked, rankedCandidate{AuditCandidate: c, sourceIdx: i, itemIdx: j})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Score != ranked[b].Score {
			return ranked[a].Score > ranked[b].Score
		}
		if ranked[a].sourceIdx != ranked[b].sourceIdx {
			return ranked[a].sourceIdx < ranked[b].sourceIdx
		}
		return ranked[a].itemIdx < ranked[b].itemIdx
	})
	// Duplicate images keep their best-ranked copy.
	seen := make(map[string]bool)
	for _, r := range ranked {
		if seen[r.ImageURL] {
			continue
		}
		seen[r.ImageURL] = true
		result.Candidates = append(result.Candidates, r.AuditCandidate)
	}

	classify(result, minConfidence, e.reviewLimit)

	span.SetAttributes(
		attribute.String("audit.status", string(result.Status)),
		attribute.Float64("audit.score", result.Score),
		attribute.Int("audit.candidates", len(result.Candidates)),
	)
	e.logger.Info("identity audit finished",
		"event", "identity_audit_finished",
		"target", target,
		"status", result.Status,
		"score", result.Score,
		"candidates", len(result.Candidates),
		"source_errors", len(result.SourceErrors),
	)
	return result, nil
}

type rankedCandidate struct {
	models.AuditCandidate
	sourceIdx int
	itemIdx   int
}

// classify applies the decision rule to ranked candidates.
func classify(result *models.IdentityAuditResult, minConfidence float64, reviewLimit int) {
	result.SelectedReferenceImages = []string{}
	result.SelectedSourceURLs = []string{}
	result.ReviewReferenceImages = []string{}
	result.ReviewSourceURLs = []string{}

	if len(result.Candidates) == 0 {
		result.Status = models.AuditStatusFailed
		result.Score = 0
		return
	}

	top := result.Candidates[0]
	result.Score = top.Score
	if top.Score >= minConfidence {
		result.Status = models.AuditStatusVerified
		result.SelectedReferenceImages = append(result.SelectedReferenceImages, top.ImageURL)
		if top.SourceURL != "" {
			result.SelectedSourceURLs = append(result.SelectedSourceURLs, top.SourceURL)
		}
		return
	}

	result.Status = models.AuditStatusNeedsReview
	for i, c := range result.Candidates {
		if i == reviewLimit {
			break
		}
		result.ReviewReferenceImages = append(result.ReviewReferenceImages, c.ImageURL)
		if c.SourceURL != "" {
			result.ReviewSourceURLs = append(result.ReviewSourceURLs, c.SourceURL)
		}
	}
}

func (e *Engine) selectSources(names []string) ([]Source, []string) {
	if len(names) == 0 {
		return e.sources, nil
	}
	byName := make(map[string]Source, len(e.sources))
	for _, s := range e.sources {
		byName[s.Name()] = s
	}
	var selected []Source
	var missing []string
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if s, ok := byName[name]; ok {
			selected = append(selected, s)
		} else {
			missing = append(missing, name)
		}
	}
	return selected, missing
}

func (e *Engine) recordSourceError(result *models.IdentityAuditResult, err *SourceError) {
	e.logger.Warn("identity audit source failed", "event", "audit_source_error", "source", err.Source, "error", err.Err)
	result.SourceErrors = append(result.SourceErrors, models.AuditSourceError{
		Source:  err.Source,
		Message: err.Err.Error(),
	})
}

func (e *Engine) weight(source string) float64 {
	if w, ok := e.weights[source]; ok {
		return w
	}
	return 1.0
}
