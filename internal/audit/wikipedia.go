package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"story-pipeline-backend/internal/models"
)

// WikipediaSource searches page titles through the MediaWiki REST API and
// uses each page's thumbnail as the candidate image.
type WikipediaSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewWikipediaSource(baseURL string, httpClient *http.Client) *WikipediaSource {
	if baseURL == "" {
		baseURL = "https://en.wikipedia.org"
	}
	return &WikipediaSource{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: defaultHTTPClient(httpClient)}
}

func (s *WikipediaSource) Name() string { return SourceWikipedia }

type wikipediaSearchResponse struct {
	Pages []struct {
		Key         string `json:"key"`
		Title       string `json:"title"`
		Excerpt     string `json:"excerpt"`
		Description string `json:"description"`
		Thumbnail   *struct {
			URL string `json:"url"`
		} `json:"thumbnail"`
	} `json:"pages"`
}

func (s *WikipediaSource) Search(ctx context.Context, target string, limit int) ([]models.AuditCandidate, error) {
	q := url.Values{}
	q.Set("q", target)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := s.baseURL + "/w/rest.php/v1/search/page?" + q.Encode()

	var resp wikipediaSearchResponse
	if err := getJSON(ctx, s.httpClient, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("wikipedia search failed: %w", err)
	}

	var candidates []models.AuditCandidate
	for _, page := range resp.Pages {
		if page.Thumbnail == nil || page.Thumbnail.URL == "" {
			continue
		}
		image := page.Thumbnail.URL
		if strings.HasPrefix(image, "//") {
			image = "https:" + image
		}
		candidates = append(candidates, models.AuditCandidate{
			Title:     page.Title,
			ImageURL:  image,
			SourceURL: s.baseURL + "/wiki/" + url.PathEscape(page.Key),
			Summary:   strings.TrimSpace(page.Description + " " + stripTags(page.Excerpt)),
		})
	}
	return candidates, nil
}
