package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqforge/protrain/pkg/config"
	"github.com/seqforge/protrain/pkg/session"
)

func TestResolveEndpoint(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")
	assert.Equal(t, DefaultEndpoint, ResolveEndpoint(""))
	assert.Equal(t, "https://hub.internal", ResolveEndpoint("https://hub.internal/"))

	t.Setenv("HF_ENDPOINT", "https://hf-mirror.com/")
	assert.Equal(t, "https://hf-mirror.com", ResolveEndpoint("https://hub.internal"))
}

func newHubServer(t *testing.T, files map[string]string, hits *map[string]int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/datasets/airkingbd/uniref50/tree/main", func(w http.ResponseWriter, r *http.Request) {
		var entries []map[string]interface{}
		entries = append(entries, map[string]interface{}{
			"type": "directory", "path": "data", "size": 0,
		})
		for name, content := range files {
			entries = append(entries, map[string]interface{}{
				"type": "file", "path": name, "size": len(content),
			})
		}
		json.NewEncoder(w).Encode(entries)
	})

	for name, content := range files {
		name, content := name, content
		mux.HandleFunc("/datasets/airkingbd/uniref50/resolve/main/"+name, func(w http.ResponseWriter, r *http.Request) {
			if hits != nil {
				(*hits)[name]++
			}
			fmt.Fprint(w, content)
		})
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestDownloader(t *testing.T, endpoint, localDir string) *Downloader {
	t.Helper()

	cfg := &config.Config{
		Hub:             config.Hub{Endpoint: endpoint},
		Dataset:         config.Dataset{Repo: "airkingbd/uniref50", Revision: "main", LocalDir: localDir},
		DefaultSettings: config.DefaultSettings{Timeout: 1},
	}

	sess, err := session.New(cfg)
	require.NoError(t, err)

	return NewDownloader(sess)
}

func TestDownloadDataset(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	files := map[string]string{
		"train.fasta":      ">seq1\nMKV\n",
		"data/valid.fasta": ">seq2\nGAV\n",
	}
	hits := map[string]int{}
	server := newHubServer(t, files, &hits)

	localDir := t.TempDir()
	d := newTestDownloader(t, server.URL, localDir)

	result, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Downloaded)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, filepath.Join(localDir, "airkingbd", "uniref50"), result.Dir)

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(result.Dir, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}
}

func TestDownloadDatasetSkipsCachedFiles(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	files := map[string]string{"train.fasta": ">seq1\nMKV\n"}
	hits := map[string]int{}
	server := newHubServer(t, files, &hits)

	d := newTestDownloader(t, server.URL, t.TempDir())

	_, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	require.NoError(t, err)

	result, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Downloaded)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, hits["train.fasta"])
}

func TestDownloadDatasetForceRefetches(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	files := map[string]string{"train.fasta": ">seq1\nMKV\n"}
	hits := map[string]int{}
	server := newHubServer(t, files, &hits)

	d := newTestDownloader(t, server.URL, t.TempDir())

	_, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	require.NoError(t, err)

	result, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Downloaded)
	assert.Equal(t, 2, hits["train.fasta"])
}

func TestDownloadDatasetSizeMismatchRefetches(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	files := map[string]string{"train.fasta": ">seq1\nMKV\n"}
	server := newHubServer(t, files, nil)

	localDir := t.TempDir()
	d := newTestDownloader(t, server.URL, localDir)

	// Simulate a truncated previous download.
	dest := filepath.Join(localDir, "airkingbd", "uniref50", "train.fasta")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0755))
	require.NoError(t, os.WriteFile(dest, []byte(">s"), 0644))

	result, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Downloaded)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, files["train.fasta"], string(data))
}

func TestDownloadDatasetMissingRepo(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	d := newTestDownloader(t, server.URL, t.TempDir())

	_, err := d.DownloadDataset(context.Background(), "airkingbd/uniref50", "main", false)
	assert.Error(t, err)

	_, err = d.DownloadDataset(context.Background(), "", "main", false)
	assert.Error(t, err)
}
