package htmlmeta_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"story-pipeline-backend/internal/htmlmeta"
)

const page = `<!doctype html><html><head>
<title>Fallback Title</title>
<meta content="https://img.example.com/ada.jpg" property="og:image">
<meta property="og:title" content="Ada Lovelace - Portrait">
<meta name="description" content="English mathematician">
</head><body></body></html>`

func TestParse(t *testing.T) {
	meta, err := htmlmeta.Parse(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "https://img.example.com/ada.jpg", meta.Image)
	assert.Equal(t, "Ada Lovelace - Portrait", meta.Title)
	assert.Equal(t, "English mathematician", meta.Description)
}

func TestParse_TitleFallback(t *testing.T) {
	meta, err := htmlmeta.Parse(strings.NewReader(`<html><head><title> Plain </title></head></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Plain", meta.Title)
	assert.Empty(t, meta.Image)
}

func TestFetcher_ImageURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/pin/full", http.StatusFound)
	})
	mux.HandleFunc("/pin/full", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	})
	mux.HandleFunc("/direct.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	fetcher := htmlmeta.NewFetcher(server.Client())
	ctx := context.Background()

	url, err := fetcher.ImageURL(ctx, server.URL+"/pin")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/ada.jpg", url)

	url, err = fetcher.ImageURL(ctx, server.URL+"/direct.png")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/direct.png", url)

	_, err = fetcher.ImageURL(ctx, server.URL+"/empty")
	assert.Error(t, err)

	_, err = fetcher.ImageURL(ctx, server.URL+"/missing")
	assert.Error(t, err)
}
