package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	defaultGitHubAPI = "https://api.github.com"
)

var (
	versionPattern    = regexp.MustCompile(`v?(\d+(?:\.\d+)+)`)
	prereleasePattern = regexp.MustCompile(`(?i)(alpha|beta|rc|pre|dev|nightly)`)
)

// VersionStatus compares a tool's pinned version with the latest upstream one
type VersionStatus struct {
	Tool     string `json:"tool"`
	Source   string `json:"source"`
	Current  string `json:"current"`
	Latest   string `json:"latest,omitempty"`
	Outdated bool   `json:"outdated"`
	Error    string `json:"error,omitempty"`
}

// VersionFetcherConfig contains configuration for a VersionFetcher
type VersionFetcherConfig struct {
	HTTPClient     *http.Client
	GitHubAPI      string // Defaults to https://api.github.com
	GitHubToken    string
	InitialBackoff time.Duration
	Logger         interfaces.Logger
}

// VersionFetcher resolves the latest upstream version of a tool from its source
type VersionFetcher struct {
	httpClient     *http.Client
	githubAPI      string
	token          string
	initialBackoff time.Duration
	logger         interfaces.Logger
}

// NewVersionFetcher creates a new version fetcher
func NewVersionFetcher(config VersionFetcherConfig) *VersionFetcher {
	vf := &VersionFetcher{
		httpClient:     config.HTTPClient,
		githubAPI:      strings.TrimSuffix(config.GitHubAPI, "/"),
		token:          config.GitHubToken,
		initialBackoff: config.InitialBackoff,
		logger:         config.Logger,
	}
	if vf.httpClient == nil {
		vf.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if vf.githubAPI == "" {
		vf.githubAPI = defaultGitHubAPI
	}
	if vf.initialBackoff == 0 {
		vf.initialBackoff = initialBackoff
	}
	if vf.logger == nil {
		vf.logger = &interfaces.NoOpLogger{}
	}
	return vf
}

// CheckTool reports whether a tool's pinned version is behind upstream.
// Lookup failures are recorded in the status, not returned.
func (vf *VersionFetcher) CheckTool(ctx context.Context, tool entities.Tool) VersionStatus {
	status := VersionStatus{Tool: tool.Name, Source: tool.Source, Current: tool.Version}

	latest, err := vf.LatestVersion(ctx, tool.Source)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Latest = latest
	status.Outdated = CompareVersions(NormalizeVersion(latest), NormalizeVersion(tool.Version)) > 0
	return status
}

// LatestVersion resolves a version source:
// github-release:owner/repo, github-tag:owner/repo, url:https://... or static:1.2.3
func (vf *VersionFetcher) LatestVersion(ctx context.Context, source string) (string, error) {
	kind, arg, ok := strings.Cut(source, ":")
	if !ok || arg == "" {
		return "", fmt.Errorf("unsupported version source %q", source)
	}

	switch kind {
	case "github-release":
		return vf.fetchGitHubRelease(ctx, arg)
	case "github-tag":
		return vf.fetchGitHubTag(ctx, arg)
	case "url":
		body, err := vf.fetchURL(ctx, arg)
		if err != nil {
			return "", err
		}
		return latestInText(body)
	case "static":
		return arg, nil
	default:
		return "", fmt.Errorf("unsupported version source %q", source)
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

type githubTag struct {
	Name string `json:"name"`
}

func (vf *VersionFetcher) fetchGitHubRelease(ctx context.Context, repo string) (string, error) {
	var release githubRelease
	if err := vf.githubGet(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", vf.githubAPI, repo), &release); err != nil {
		return "", err
	}
	if release.Draft {
		return "", fmt.Errorf("latest release of %s is a draft", repo)
	}
	return release.TagName, nil
}

// fetchGitHubTag returns the first tag, newest first, that is not a prerelease
func (vf *VersionFetcher) fetchGitHubTag(ctx context.Context, repo string) (string, error) {
	var tags []githubTag
	if err := vf.githubGet(ctx, fmt.Sprintf("%s/repos/%s/tags", vf.githubAPI, repo), &tags); err != nil {
		return "", err
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("no tags found for %s", repo)
	}
	for _, tag := range tags {
		if !prereleasePattern.MatchString(tag.Name) {
			return tag.Name, nil
		}
	}
	return "", fmt.Errorf("all tags of %s are prereleases", repo)
}

func (vf *VersionFetcher) githubGet(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if vf.token != "" {
		req.Header.Set("Authorization", "Bearer "+vf.token)
	}

	resp, err := vf.doWithRetry(ctx, req)
	if err != nil {
		return fmt.Errorf("GitHub API request failed: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse GitHub response: %w", err)
	}
	return nil
}

// doWithRetry retries network errors and retryable statuses with exponential backoff
func (vf *VersionFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(vf.initialBackoff, attempt-1)
			vf.logger.Debug("retrying GitHub request",
				interfaces.F("url", req.URL.String()), interfaces.F("attempt", attempt), interfaces.F("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := vf.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if err := vf.checkRateLimit(resp); err != nil {
			//nolint:errcheck,gosec // G104: Best effort close on rate limit error
			resp.Body.Close()
			return nil, err
		}

		if !isRetryableError(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		//nolint:errcheck,gosec // G104: Best effort close before retry
		resp.Body.Close()
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return nil, lastErr
}

// checkRateLimit fails fast on an exhausted GitHub quota instead of waiting for the reset
func (vf *VersionFetcher) checkRateLimit(resp *http.Response) error {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return nil
	}

	if remaining == 0 {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return fmt.Errorf("GitHub API rate limit exceeded, resets at %s", time.Unix(reset, 0).UTC().Format(time.RFC3339))
		}
		return fmt.Errorf("GitHub API rate limit exceeded")
	}
	if remaining <= 10 {
		vf.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remaining))
	}
	return nil
}

func isRetryableError(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden, // 403 - secondary rate limit
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func calculateBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

func (vf *VersionFetcher) fetchURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := vf.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// latestInText returns the highest non-prerelease version mentioned in text
func latestInText(text string) (string, error) {
	var latest string
	for _, line := range strings.Split(text, "\n") {
		if prereleasePattern.MatchString(line) {
			continue
		}
		for _, m := range versionPattern.FindAllStringSubmatch(line, -1) {
			if latest == "" || CompareVersions(m[1], latest) > 0 {
				latest = m[1]
			}
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no version found")
	}
	return latest, nil
}

// NormalizeVersion strips a leading "v" and surrounding whitespace
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// CompareVersions orders two release versions with semver rules, so a
// prerelease sorts before its release. Versions that are not semver, such as
// four-part or suffixed tags, are cut down to their leading numbers first.
// Returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal.
func CompareVersions(v1, v2 string) int {
	return semver.Compare(canonicalVersion(v1), canonicalVersion(v2))
}

// canonicalVersion returns a semver string with a "v" prefix, or "" when v has no version number
func canonicalVersion(v string) string {
	sv := "v" + NormalizeVersion(v)
	if semver.IsValid(sv) {
		return semver.Canonical(sv)
	}

	m := versionPattern.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	parts := strings.Split(m[1], ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.Canonical("v" + strings.Join(parts, "."))
}
