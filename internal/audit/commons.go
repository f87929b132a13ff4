package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"story-pipeline-backend/internal/models"
)

// CommonsSource searches the File namespace of Wikimedia Commons.
type CommonsSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewCommonsSource(baseURL string, httpClient *http.Client) *CommonsSource {
	if baseURL == "" {
		baseURL = "https://commons.wikimedia.org"
	}
	return &CommonsSource{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: defaultHTTPClient(httpClient)}
}

func (s *CommonsSource) Name() string { return SourceCommons }

type commonsMetaValue struct {
	Value string `json:"value"`
}

type commonsResponse struct {
	Query struct {
		Pages map[string]struct {
			Title     string `json:"title"`
			Index     int    `json:"index"`
			ImageInfo []struct {
				URL            string                      `json:"url"`
				DescriptionURL string                      `json:"descriptionurl"`
				ExtMetadata    map[string]commonsMetaValue `json:"extmetadata"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

func (s *CommonsSource) Search(ctx context.Context, target string, limit int) ([]models.AuditCandidate, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("generator", "search")
	q.Set("gsrsearch", target)
	q.Set("gsrnamespace", "6")
	q.Set("gsrlimit", strconv.Itoa(limit))
	q.Set("prop", "imageinfo")
	q.Set("iiprop", "url|extmetadata")
	endpoint := s.baseURL + "/w/api.php?" + q.Encode()

	var resp commonsResponse
	if err := getJSON(ctx, s.httpClient, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("commons search failed: %w", err)
	}

	type indexed struct {
		index int
		c     models.AuditCandidate
	}
	var found []indexed
	for _, page := range resp.Query.Pages {
		if len(page.ImageInfo) == 0 || page.ImageInfo[0].URL == "" {
			continue
		}
		info := page.ImageInfo[0]
		summary := stripTags(info.ExtMetadata["ObjectName"].Value + " " + info.ExtMetadata["ImageDescription"].Value)
		found = append(found, indexed{
			index: page.Index,
			c: models.AuditCandidate{
				Title:     strings.TrimPrefix(page.Title, "File:"),
				ImageURL:  info.URL,
				SourceURL: info.DescriptionURL,
				Summary:   summary,
			},
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })

	candidates := make([]models.AuditCandidate, 0, len(found))
	for _, f := range found {
		candidates = append(candidates, f.c)
	}
	return candidates, nil
}
