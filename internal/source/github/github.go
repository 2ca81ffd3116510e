// Package github fetches application versions from a GitHub repository:
// the latest release when one exists, otherwise the head commit of the
// tracked branch.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/loykin/rollout/internal/source"
)

const defaultAPIBase = "https://api.github.com"

// Config identifies the repository to track.
type Config struct {
	Owner   string
	Repo    string
	Branch  string // defaults to "main"
	Token   string // optional personal access token
	APIBase string // overridable for tests
	Path    string // repo subdirectory holding the application, "" = root
}

// Client talks to the GitHub REST API.
type Client struct {
	cfg Config
	hc  *http.Client
	log *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 30 * time.Second},
		log: log,
	}
}

func (c *Client) get(ctx context.Context, url string, accept string, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.Token)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return resp, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return resp, json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) repoURL(parts ...string) string {
	return c.cfg.APIBase + path.Join("/repos", c.cfg.Owner, c.cfg.Repo, path.Join(parts...))
}

type releaseInfo struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
}

type commitInfo struct {
	SHA string `json:"sha"`
}

type contentEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file" or "dir"
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	DownloadURL string `json:"download_url"`
}

type assetInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Latest resolves the newest published version: the latest release's tag, or
// the branch head's short SHA when the repository has no releases.
func (c *Client) Latest(ctx context.Context) (*source.Descriptor, error) {
	var rel releaseInfo
	resp, err := c.get(ctx, c.repoURL("releases", "latest"), "", &rel)
	switch {
	case err == nil && rel.TagName != "":
		return &source.Descriptor{ID: rel.TagName, Release: rel.ID}, nil
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		// No releases published; track the branch head instead.
	case err != nil:
		return nil, fmt.Errorf("latest release: %w", err)
	}

	var com commitInfo
	if _, err := c.get(ctx, c.repoURL("commits", c.cfg.Branch), "", &com); err != nil {
		return nil, fmt.Errorf("latest commit: %w", err)
	}
	if len(com.SHA) < 7 {
		return nil, fmt.Errorf("malformed commit sha %q", com.SHA)
	}
	return &source.Descriptor{ID: com.SHA[:7], Commit: com.SHA}, nil
}

// Fetch downloads the files of desc into destDir. Release descriptors pull
// the release assets; commit descriptors pull the tracked subtree via the
// contents API. Returns the relative paths of the downloaded files.
func (c *Client) Fetch(ctx context.Context, desc *source.Descriptor, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, err
	}
	if desc.Release != 0 {
		return c.fetchReleaseAssets(ctx, desc.Release, destDir)
	}
	ref := desc.Commit
	if ref == "" {
		ref = c.cfg.Branch
	}
	var files []string
	if err := c.fetchTree(ctx, c.cfg.Path, ref, destDir, "", &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) fetchReleaseAssets(ctx context.Context, releaseID int64, destDir string) ([]string, error) {
	var assets []assetInfo
	url := c.repoURL("releases", fmt.Sprintf("%d", releaseID), "assets")
	if _, err := c.get(ctx, url, "", &assets); err != nil {
		return nil, fmt.Errorf("list release assets: %w", err)
	}
	var files []string
	for _, a := range assets {
		resp, err := c.get(ctx, a.URL, "application/octet-stream", nil)
		if err != nil {
			return nil, fmt.Errorf("download asset %s: %w", a.Name, err)
		}
		err = writeBody(filepath.Join(destDir, a.Name), resp)
		if err != nil {
			return nil, fmt.Errorf("save asset %s: %w", a.Name, err)
		}
		c.log.Info("downloaded release asset", "name", a.Name)
		files = append(files, a.Name)
	}
	return files, nil
}

// fetchTree walks the contents API recursively, mirroring repoPath under
// destDir/rel.
func (c *Client) fetchTree(ctx context.Context, repoPath, ref, destDir, rel string, files *[]string) error {
	url := c.repoURL("contents", repoPath) + "?ref=" + ref
	var entries []contentEntry
	if _, err := c.get(ctx, url, "", &entries); err != nil {
		// A single file is returned as an object, not an array.
		var one contentEntry
		if _, err2 := c.get(ctx, url, "", &one); err2 != nil {
			return fmt.Errorf("list contents %s: %w", repoPath, err)
		}
		entries = []contentEntry{one}
	}
	for _, e := range entries {
		target := path.Join(rel, e.Name)
		switch e.Type {
		case "dir":
			if err := c.fetchTree(ctx, e.Path, ref, destDir, target, files); err != nil {
				return err
			}
		case "file":
			if err := c.fetchFile(ctx, e, ref, filepath.Join(destDir, target)); err != nil {
				return err
			}
			c.log.Info("downloaded file", "path", e.Path)
			*files = append(*files, target)
		}
	}
	return nil
}

func (c *Client) fetchFile(ctx context.Context, e contentEntry, ref, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	// Listing responses omit content; fetch the entry itself for the
	// base64 payload, falling back to the raw download URL for large blobs.
	var full contentEntry
	if _, err := c.get(ctx, c.repoURL("contents", e.Path)+"?ref="+ref, "", &full); err != nil {
		return err
	}
	if full.Encoding == "base64" && full.Content != "" {
		b, err := base64.StdEncoding.DecodeString(stripNewlines(full.Content))
		if err != nil {
			return fmt.Errorf("decode %s: %w", e.Path, err)
		}
		return os.WriteFile(dst, b, 0o644)
	}
	if full.DownloadURL == "" {
		return fmt.Errorf("no content for %s", e.Path)
	}
	resp, err := c.get(ctx, full.DownloadURL, "", nil)
	if err != nil {
		return err
	}
	return writeBody(dst, resp)
}

func writeBody(dst string, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: %s", resp.Status)
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
