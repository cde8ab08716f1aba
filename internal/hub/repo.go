package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Whoami returns the user name the token belongs to
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var who struct {
		Name string `json:"name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.url("/api/whoami-v2"), nil, &who); err != nil {
		return "", fmt.Errorf("resolving token owner: %w", err)
	}
	if who.Name == "" {
		return "", errors.New("resolving token owner: empty user name")
	}
	return who.Name, nil
}

// ResolveRepoID returns name as owner/name, asking the Hub for the token's
// owner when name has no namespace.
func (c *Client) ResolveRepoID(ctx context.Context, name string) (string, error) {
	name = strings.Trim(name, "/")
	if name == "" {
		return "", errors.New("repository name is empty")
	}
	if strings.Contains(name, "/") {
		if strings.Count(name, "/") > 1 {
			return "", fmt.Errorf("invalid repository name %q", name)
		}
		return name, nil
	}

	owner, err := c.Whoami(ctx)
	if err != nil {
		return "", err
	}
	return owner + "/" + name, nil
}

// CreateRepo creates a model repository and returns its URL. A repository
// that already exists is reused.
func (c *Client) CreateRepo(ctx context.Context, repoID string, private bool) (string, error) {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok {
		return "", fmt.Errorf("repository %q must be owner/name", repoID)
	}

	payload := map[string]interface{}{
		"name":         name,
		"organization": owner,
		"private":      private,
	}

	var created struct {
		URL string `json:"url"`
	}
	err := c.doJSON(ctx, http.MethodPost, c.url("/api/repos/create"), payload, &created)
	switch {
	case errors.Is(err, ErrConflict):
		c.log.Infof("repository %s already exists, reusing it", repoID)
		return c.RepoURL(repoID), nil
	case err != nil:
		return "", fmt.Errorf("creating repository %s: %w", repoID, err)
	}

	if created.URL == "" {
		return c.RepoURL(repoID), nil
	}
	return created.URL, nil
}
