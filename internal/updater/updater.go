// Package updater checks whether the running build is behind the upstream
// repository. It only reports; pulling and restarting stays a human action.
package updater

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Status is the outcome of one update check.
type Status struct {
	LatestSHA     string
	LatestMessage string
	LatestDate    time.Time
	UpToDate      bool
}

// Checker queries GitHub for the newest commit on the configured repo.
type Checker struct {
	client *github.Client
	owner  string
	repo   string
}

// CheckerOpts holds parameters for creating a Checker.
type CheckerOpts struct {
	Owner string
	Repo  string
	Token string // optional, raises the API rate limit
	// For testing: inject an http.Client pointed at a stub server.
	HTTPClient *http.Client
	BaseURL    string
}

// NewChecker creates a Checker.
func NewChecker(opts CheckerOpts) (*Checker, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("updater: owner and repo are required")
	}

	httpc := opts.HTTPClient
	if httpc == nil && opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		httpc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(httpc)
	if opts.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("updater: base url: %w", err)
		}
	}

	return &Checker{client: client, owner: opts.Owner, repo: opts.Repo}, nil
}

// Check fetches the newest commit and compares it against the running
// build's commit (an abbreviated SHA from ldflags).
func (c *Checker) Check(ctx context.Context, runningCommit string) (*Status, error) {
	commits, _, err := c.client.Repositories.ListCommits(ctx, c.owner, c.repo,
		&github.CommitsListOptions{ListOptions: github.ListOptions{PerPage: 1}})
	if err != nil {
		return nil, fmt.Errorf("updater: list commits: %w", err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("updater: repo %s/%s has no commits", c.owner, c.repo)
	}

	latest := commits[0]
	status := &Status{LatestSHA: latest.GetSHA()}
	if commit := latest.GetCommit(); commit != nil {
		status.LatestMessage = firstLine(commit.GetMessage())
		status.LatestDate = commit.GetCommitter().GetDate().Time
	}
	status.UpToDate = runningCommit != "" && runningCommit != "none" &&
		strings.HasPrefix(status.LatestSHA, runningCommit)
	return status, nil
}

// Render formats a Status for chat.
func Render(s *Status, runningCommit string) string {
	sha := s.LatestSHA
	if len(sha) > 10 {
		sha = sha[:10]
	}
	if s.UpToDate {
		return fmt.Sprintf("Running the latest build (%s)", sha)
	}
	return fmt.Sprintf("A newer build exists: %s %q (%s), running %s",
		sha, s.LatestMessage, s.LatestDate.Format("2006-01-02"), runningCommit)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
