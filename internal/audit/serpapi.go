package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"story-pipeline-backend/internal/htmlmeta"
	"story-pipeline-backend/internal/models"
)

// WebSearchSource queries Google Images through SerpAPI. Results without an
// image URL fall back to the og:image of the result page.
type WebSearchSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pages      *htmlmeta.Fetcher
}

func NewWebSearchSource(baseURL, apiKey string, httpClient *http.Client) *WebSearchSource {
	if baseURL == "" {
		baseURL = "https://serpapi.com"
	}
	httpClient = defaultHTTPClient(httpClient)
	return &WebSearchSource{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		pages:      htmlmeta.NewFetcher(httpClient),
	}
}

func (s *WebSearchSource) Name() string { return SourceWebSearch }

type serpImagesResponse struct {
	Error         string `json:"error"`
	ImagesResults []struct {
		Title     string `json:"title"`
		Original  string `json:"original"`
		Thumbnail string `json:"thumbnail"`
		Link      string `json:"link"`
		Source    string `json:"source"`
	} `json:"images_results"`
}

func (s *WebSearchSource) Search(ctx context.Context, target string, limit int) ([]models.AuditCandidate, error) {
	if s.apiKey == "" {
		return nil, errors.New("SERPAPI_KEY is not configured")
	}

	q := url.Values{}
	q.Set("engine", "google_images")
	q.Set("q", target)
	q.Set("num", strconv.Itoa(limit))
	q.Set("api_key", s.apiKey)

	var resp serpImagesResponse
	if err := getJSON(ctx, s.httpClient, s.baseURL+"/search.json?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("web search failed: %s", resp.Error)
	}

	var candidates []models.AuditCandidate
	for _, r := range resp.ImagesResults {
		if len(candidates) == limit {
			break
		}
		c := models.AuditCandidate{
			Title:     r.Title,
			ImageURL:  r.Original,
			SourceURL: r.Link,
			Summary:   r.Source,
		}
		if c.ImageURL == "" {
			c.ImageURL = r.Thumbnail
		}
		if c.ImageURL == "" && r.Link != "" {
			page, err := s.pages.Fetch(ctx, r.Link)
			if err != nil || page.Meta == nil {
				continue
			}
			c.ImageURL = page.Meta.Image
			if page.Meta.Description != "" {
				c.Summary = strings.TrimSpace(c.Summary + " " + page.Meta.Description)
			}
		}
		if c.ImageURL != "" {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}
