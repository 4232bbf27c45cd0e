// Package hub talks to a Hugging Face compatible model hub: it lists the GGUF
// files of a repository, fetches model cards and streams model files to disk.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/sift/internal/errors"
	"github.com/hpungsan/sift/internal/models"
)

// apiTimeout bounds metadata calls; file transfers are bounded only by ctx.
const apiTimeout = 30 * time.Second

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)

// RemoteFile is one GGUF file offered by a repository.
type RemoteFile struct {
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	SizeMB    float64 `json:"size_mb"`
}

// Client is a hub API client.
type Client struct {
	BaseURL    string
	Token      string
	httpClient *http.Client
}

// NewClient creates a Client. token may be empty for public repositories.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		httpClient: &http.Client{},
	}
}

// ValidateRepoID checks that repo has the form owner/name.
func ValidateRepoID(repo string) error {
	if repo == "" {
		return errors.NewInvalidRequest("repo_id is required")
	}
	if strings.Contains(repo, "..") || !repoIDPattern.MatchString(repo) {
		return errors.NewInvalidRequest("repo_id must have the form owner/name")
	}
	return nil
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	LFS  *struct {
		Size int64 `json:"size"`
	} `json:"lfs"`
}

// ListGGUFFiles returns the GGUF files at the top level of repo, sorted by
// filename. Files in subdirectories are skipped since they cannot be stored
// directly in the models directory under their own name. Paginated listings
// are followed through their Link rel="next" header, up to maxTreePages.
func (c *Client) ListGGUFFiles(ctx context.Context, repo string) ([]RemoteFile, error) {
	if err := ValidateRepoID(repo); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var files []RemoteFile
	next := fmt.Sprintf("%s/api/models/%s/tree/main?recursive=true", c.BaseURL, repo)
	for page := 0; next != ""; page++ {
		if page == maxTreePages {
			return nil, errors.NewUpstream(fmt.Errorf("file list of %s exceeds %d pages", repo, maxTreePages))
		}
		entries, link, err := c.treePage(ctx, next, repo)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type != "file" || strings.Contains(e.Path, "/") || path.Ext(e.Path) != models.Ext {
				continue
			}
			size := e.Size
			if e.LFS != nil && e.LFS.Size > 0 {
				size = e.LFS.Size
			}
			files = append(files, RemoteFile{Filename: e.Path, SizeBytes: size, SizeMB: models.SizeMB(size)})
		}
		next = link
	}
	if files == nil {
		files = []RemoteFile{}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// maxTreePages bounds how many listing pages one call follows.
const maxTreePages = 100

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>\s*;[^,]*\brel="?next"?`)

// treePage fetches one page of a tree listing and returns the absolute URL
// of the following page, or "" on the last one.
func (c *Client) treePage(ctx context.Context, pageURL, repo string) ([]treeEntry, string, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, "", errors.NewUpstream(err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "repository", repo); err != nil {
		return nil, "", err
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, "", errors.NewUpstream(fmt.Errorf("decode file list: %w", err))
	}

	m := nextLinkPattern.FindStringSubmatch(resp.Header.Get("Link"))
	if m == nil {
		return entries, "", nil
	}
	next, err := resp.Request.URL.Parse(m[1])
	if err != nil {
		return nil, "", errors.NewUpstream(fmt.Errorf("bad pagination link %q: %w", m[1], err))
	}
	return entries, next.String(), nil
}

// FetchReadme returns the README.md (model card) of repo.
func (c *Client) FetchReadme(ctx context.Context, repo string) (string, error) {
	if err := ValidateRepoID(repo); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	resp, err := c.get(ctx, c.resolveURL(repo, "README.md"))
	if err != nil {
		return "", errors.NewUpstream(err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "model card", repo); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.NewUpstream(err)
	}
	return string(data), nil
}

func (c *Client) resolveURL(repo, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s", c.BaseURL, repo, url.PathEscape(filename))
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("User-Agent", "sift")
	return c.httpClient.Do(req)
}

// checkStatus maps hub HTTP statuses to SiftErrors.
func checkStatus(resp *http.Response, kind, id string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewNotFound(kind, id)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewUpstream(fmt.Errorf("hub denied access to %s (status %d); set hub.token for gated repositories", id, resp.StatusCode))
	default:
		return errors.NewUpstream(fmt.Errorf("hub returned status %d for %s", resp.StatusCode, id))
	}
}
