package audit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"story-pipeline-backend/internal/audit"
)

func TestWikipediaSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/w/rest.php/v1/search/page", r.URL.Path)
		assert.Equal(t, "Ada Lovelace", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pages":[
			{"key":"Ada_Lovelace","title":"Ada Lovelace","description":"English mathematician",
			 "excerpt":"<span class=\"searchmatch\">Ada</span> King","thumbnail":{"url":"//upload.wikimedia.org/ada.jpg"}},
			{"key":"Lovelace_(film)","title":"Lovelace (film)","thumbnail":null}
		]}`))
	}))
	defer server.Close()

	src := audit.NewWikipediaSource(server.URL, server.Client())
	assert.Equal(t, audit.SourceWikipedia, src.Name())

	candidates, err := src.Search(context.Background(), "Ada Lovelace", 3)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://upload.wikimedia.org/ada.jpg", candidates[0].ImageURL)
	assert.Equal(t, server.URL+"/wiki/Ada_Lovelace", candidates[0].SourceURL)
	assert.Equal(t, "English mathematician Ada King", candidates[0].Summary)
}

func TestWikipediaSource_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := audit.NewWikipediaSource(server.URL, server.Client()).Search(context.Background(), "Ada", 3)
	assert.Error(t, err)
}

func TestCommonsSource_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/w/api.php", r.URL.Path)
		assert.Equal(t, "search", q.Get("generator"))
		assert.Equal(t, "6", q.Get("gsrnamespace"))
		assert.Equal(t, "url|extmetadata", q.Get("iiprop"))
		w.Write([]byte(`{"query":{"pages":{
			"20":{"title":"File:Second.jpg","index":2,"imageinfo":[{"url":"https://c/second.jpg","descriptionurl":"https://c/File:Second.jpg","extmetadata":{}}]},
			"10":{"title":"File:Ada Lovelace portrait.jpg","index":1,"imageinfo":[{"url":"https://c/ada.jpg","descriptionurl":"https://c/File:Ada.jpg",
				"extmetadata":{"ImageDescription":{"value":"<p>Portrait of <b>Ada</b></p>"}}}]},
			"30":{"title":"File:NoInfo.jpg","index":3}
		}}}`))
	}))
	defer server.Close()

	candidates, err := audit.NewCommonsSource(server.URL, server.Client()).Search(context.Background(), "Ada Lovelace", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Ada Lovelace portrait.jpg", candidates[0].Title)
	assert.Equal(t, "https://c/ada.jpg", candidates[0].ImageURL)
	assert.Equal(t, "Portrait of Ada", candidates[0].Summary)
	assert.Equal(t, "https://c/second.jpg", candidates[1].ImageURL)
}

func TestWebSearchSource_OGImageFallback(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "google_images", r.URL.Query().Get("engine"))
		assert.Equal(t, "serp-key", r.URL.Query().Get("api_key"))
		w.Write([]byte(`{"images_results":[
			{"title":"Ada Lovelace","original":"https://img/ada.png","link":"https://site/ada","source":"site"},
			{"title":"Ada page","link":"` + server.URL + `/page"}
		]}`))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><meta property="og:image" content="https://img/og.jpg"></head></html>`))
	})

	src := audit.NewWebSearchSource(server.URL, "serp-key", server.Client())
	candidates, err := src.Search(context.Background(), "Ada Lovelace", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://img/ada.png", candidates[0].ImageURL)
	assert.Equal(t, "https://img/og.jpg", candidates[1].ImageURL)
}

func TestWebSearchSource_RequiresKey(t *testing.T) {
	_, err := audit.NewWebSearchSource("", "", nil).Search(context.Background(), "Ada", 5)
	assert.Error(t, err)
}
