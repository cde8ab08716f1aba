package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// TreeEntry is one file or directory of a repository
type TreeEntry struct {
	Type string   `json:"type"`
	OID  string   `json:"oid"`
	Size int64    `json:"size"`
	Path string   `json:"path"`
	LFS  *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo describes a file stored in Git LFS
type LFSInfo struct {
	OID         string `json:"oid"`
	Size        int64  `json:"size"`
	PointerSize int64  `json:"pointerSize"`
}

// IsFile reports whether the entry is a regular file
func (e TreeEntry) IsFile() bool {
	return e.Type == "file"
}

var nextLink = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// ListTree lists every entry of a model repository at revision, following
// pagination.
func (c *Client) ListTree(ctx context.Context, repoID, revision string) ([]TreeEntry, error) {
	if revision == "" {
		revision = DefaultRevision
	}
	next := c.url("/api/models/%s/tree/%s?recursive=true", escapePath(repoID), escapePath(revision))

	var entries []TreeEntry
	for next != "" {
		req, err := c.newRequest(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", repoID, err)
		}

		var page []TreeEntry
		if err := decodeJSON(resp, &page); err != nil {
			return nil, fmt.Errorf("listing %s: %w", repoID, err)
		}
		entries = append(entries, page...)

		next = ""
		if m := nextLink.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
			next = m[1]
		}
	}

	return entries, nil
}

// Select returns the files of entries matching any of patterns. Patterns use
// gitignore syntax, so "*.json" matches at any depth.
func Select(entries []TreeEntry, patterns []string) []TreeEntry {
	matcher := ignore.CompileIgnoreLines(patterns...)

	var out []TreeEntry
	for _, e := range entries {
		if e.IsFile() && matcher.MatchesPath(e.Path) {
			out = append(out, e)
		}
	}
	return out
}

// DownloadFiles downloads files of repoID into dir, keeping their layout
func (c *Client) DownloadFiles(ctx context.Context, repoID, revision, dir string, files []TreeEntry) error {
	for _, f := range files {
		dest := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := c.Download(ctx, repoID, revision, f.Path, dest); err != nil {
			return err
		}
	}
	return nil
}

// Download fetches one file of repoID to dest. The file is written to a
// temporary name and renamed once complete.
func (c *Client) Download(ctx context.Context, repoID, revision, file, dest string) error {
	if revision == "" {
		revision = DefaultRevision
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file, err)
	}

	req, err := c.newRequest(ctx, http.MethodGet,
		c.url("/%s/resolve/%s/%s", escapePath(repoID), escapePath(revision), escapePath(file)), nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", file, err)
	}
	defer resp.Body.Close()

	tempPath := dest + ".part"
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}

	if err := c.downloadWithProgress(file, resp.Body, out, resp.ContentLength); err != nil {
		out.Close()
		os.Remove(tempPath)
		return fmt.Errorf("downloading %s: %w", file, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write %s: %w", file, err)
	}

	if err := os.Rename(tempPath, dest); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	c.log.Debugf("downloaded %s/%s", repoID, file)
	return nil
}

// downloadWithProgress downloads with progress reporting
func (c *Client) downloadWithProgress(file string, src io.Reader, dst io.Writer, total int64) error {
	buf := make([]byte, 32*1024)
	var downloaded int64
	startTime := time.Now()
	lastUpdate := time.Now()

	report := func() {
		elapsed := time.Since(startTime).Seconds()
		if elapsed <= 0 {
			elapsed = 1e-9
		}
		c.ProgressFunc(file, downloaded, total, float64(downloaded)/elapsed)
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			downloaded += int64(n)

			// Report progress every 500ms
			if c.ProgressFunc != nil && time.Since(lastUpdate) > 500*time.Millisecond {
				report()
				lastUpdate = time.Now()
			}
		}

		if err == io.EOF {
			if c.ProgressFunc != nil {
				report()
			}
			break
		}

		if err != nil {
			return err
		}
	}

	if total > 0 && downloaded != total {
		return fmt.Errorf("short download: got %d of %d bytes", downloaded, total)
	}
	return nil
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
