package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqforge/protrain/pkg/session"
)

var DebugLog func(string, ...interface{})

const DefaultEndpoint = "https://huggingface.co"

// Downloader fetches dataset repositories from the HuggingFace Hub into a
// local directory. Files already on disk with a matching size are skipped, so
// repeated launches reuse the cache.
type Downloader struct {
	endpoint string
	token    string
	localDir string
	client   *http.Client
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type DownloadResult struct {
	Dir        string
	Downloaded int
	Skipped    int
}

func NewDownloader(sess *session.Session) *Downloader {
	cfg := sess.Config

	return &Downloader{
		endpoint: ResolveEndpoint(cfg.Hub.Endpoint),
		token:    cfg.Hub.Token,
		localDir: cfg.Dataset.LocalDir,
		client:   sess.Client,
	}
}

// ResolveEndpoint picks the hub endpoint: HF_ENDPOINT wins over the config
// value, which wins over the default. Mirror users point HF_ENDPOINT at
// e.g. https://hf-mirror.com.
func ResolveEndpoint(configured string) string {
	if env := os.Getenv("HF_ENDPOINT"); env != "" {
		return strings.TrimRight(env, "/")
	}
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	return DefaultEndpoint
}

func (d *Downloader) Endpoint() string {
	return d.endpoint
}

// DownloadDataset mirrors the repo's file tree at revision into
// <localDir>/<repo>. With force set, files are re-fetched even when cached.
func (d *Downloader) DownloadDataset(ctx context.Context, repo, revision string, force bool) (*DownloadResult, error) {
	if repo == "" {
		return nil, fmt.Errorf("dataset repo is required")
	}
	if revision == "" {
		revision = "main"
	}

	destDir := filepath.Join(d.localDir, filepath.FromSlash(repo))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory: %w", err)
	}

	entries, err := d.listRepoTree(ctx, repo, revision)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset repo %s: %w", repo, err)
	}

	result := &DownloadResult{Dir: destDir}

	for _, entry := range entries {
		if entry.Type != "file" {
			continue
		}

		destPath := filepath.Join(destDir, filepath.FromSlash(entry.Path))

		if !force && fileExistsWithSize(destPath, entry.Size) {
			if DebugLog != nil {
				DebugLog("cached: %s (%d bytes)", entry.Path, entry.Size)
			}
			result.Skipped++
			continue
		}

		fileURL := fmt.Sprintf("%s/datasets/%s/resolve/%s/%s",
			d.endpoint, repo, revision, pathEscapeSegments(entry.Path))

		fmt.Printf("[HUB]   downloading %s...\n", entry.Path)
		if err := d.downloadFile(ctx, fileURL, destPath); err != nil {
			return nil, fmt.Errorf("failed to download %s: %w", entry.Path, err)
		}
		result.Downloaded++
	}

	return result, nil
}

func (d *Downloader) listRepoTree(ctx context.Context, repo, revision string) ([]treeEntry, error) {
	apiURL := fmt.Sprintf("%s/api/datasets/%s/tree/%s?recursive=true", d.endpoint, repo, revision)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	d.setAuth(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse repo tree: %w", err)
	}

	return entries, nil
}

func (d *Downloader) downloadFile(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return err
	}
	d.setAuth(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	// Write to a temp name first so a partial download never looks cached.
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}

func (d *Downloader) setAuth(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}

func fileExistsWithSize(path string, size int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if size > 0 && info.Size() != size {
		return false
	}
	return true
}

func pathEscapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
