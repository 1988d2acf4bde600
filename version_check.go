package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/contactlaplanque/akm-control/internal/jackd"
	"github.com/contactlaplanque/akm-control/internal/types"
)

const (
	githubRepo           = "contactlaplanque/akm-control"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second // Delay before first check to avoid blocking startup
	versionCheckTimeout  = 30 * time.Second // HTTP request timeout
	versionMaxRetries    = 3                // Max retries per check cycle
	versionRetryDelay    = 1 * time.Minute  // Delay between retries
)

// VersionChecker polls GitHub for new releases. It is safe for concurrent use.
type VersionChecker struct {
	releasesURL string
	client      *http.Client

	mu     sync.RWMutex
	latest string
	etag   string // For conditional requests (304 Not Modified)
}

// NewVersionChecker returns a VersionChecker for this project's releases.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		releasesURL: "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		client:      http.DefaultClient,
	}
}

// Run checks after a startup delay and then daily until ctx ends.
func (vc *VersionChecker) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	select {
	case <-time.After(versionCheckDelay):
		vc.checkWithRetry(ctx)
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(versionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			vc.checkWithRetry(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// checkWithRetry performs the version check with retries on failure.
func (vc *VersionChecker) checkWithRetry(ctx context.Context) {
	for attempt := range versionMaxRetries {
		if vc.check(ctx) {
			return
		}
		if attempt < versionMaxRetries-1 {
			select {
			case <-time.After(versionRetryDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

// githubRelease is the subset of the GitHub release payload we read.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// errRetry marks a failed check worth repeating within the same cycle.
var errRetry = errors.New("retry version check")

// check fetches the latest release and reports whether the cycle is done.
func (vc *VersionChecker) check(ctx context.Context) bool {
	release, etag, err := vc.fetchLatest(ctx)
	if err != nil {
		slog.Debug("version check failed", "error", err)
		return !errors.Is(err, errRetry)
	}
	if release == nil {
		return true
	}

	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.latest = normalizeVersion(release.TagName)
	if etag != "" {
		vc.etag = etag
	}
	return true
}

// fetchLatest returns the latest stable release and its ETag. A nil release
// with a nil error means nothing changed or nothing is published.
func (vc *VersionChecker) fetchLatest(ctx context.Context) (*githubRelease, string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, versionCheckTimeout,
		errors.New("github API request timeout"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.releasesURL, http.NoBody)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "akm-control/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errRetry, err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil, "", nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: status %d", errRetry, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, "", fmt.Errorf("%w: decode release: %w", errRetry, err)
	}
	if release.Draft || release.Prerelease {
		return nil, "", nil
	}
	if release.TagName == "" {
		return nil, "", fmt.Errorf("%w: release without tag", errRetry)
	}
	return &release, resp.Header.Get("ETag"), nil
}

// Info returns the build version and the latest known release.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	defer vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    vc.latest,
		Commit:    Commit,
		BuildTime: BuildTime,
	}
	if vc.latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(vc.latest, current)
	}
	return info
}

// normalizeVersion strips whitespace and a leading "v".
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest is strictly newer than current.
func isNewerVersion(latest, current string) bool {
	return jackd.IsAtLeast(latest, current) && !jackd.IsAtLeast(current, latest)
}
