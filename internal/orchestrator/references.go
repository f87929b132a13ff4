package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveReferences turns story references into provider-reachable URLs.
// Local files are uploaded, Pinterest links are resolved to their image and
// other URLs pass through unchanged.
func (o *Orchestrator) resolveReferences(ctx context.Context, r *run, refs []string) ([]string, error) {
	var resolved []string
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if isURL(ref) {
			resolved = append(resolved, o.resolveRemote(ctx, r, ref))
			continue
		}

		path := resolvePath(r.req.BaseDir, ref)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reference image path unreadable: %w", err)
		}
		url, err := o.tasks.UploadBinary(ctx, filepath.Base(path), data)
		if err != nil {
			return nil, fmt.Errorf("reference image upload failed for %s: %w", path, err)
		}
		r.logger.Info("reference image uploaded", "event", "reference_uploaded", "path", path, "url", url)
		resolved = append(resolved, url)
	}
	if len(resolved) == 0 {
		return nil, ErrNoReferences
	}
	return resolved, nil
}

func (o *Orchestrator) resolveRemote(ctx context.Context, r *run, url string) string {
	if !isPinterest(url) {
		return url
	}
	image, err := o.pages.ImageURL(ctx, url)
	if err != nil {
		r.logger.Warn("pinterest reference not resolved, using link as-is",
			"event", "reference_resolve_failed", "url", url, "error", err)
		return url
	}
	return image
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isPinterest(url string) bool {
	return strings.Contains(url, "pin.it/") || strings.Contains(url, "pinterest.")
}
