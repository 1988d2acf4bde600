package jackd

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// versionTimeout bounds the --version invocation.
const versionTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`\b(\d+\.\d+(?:\.\d+)?)\b`)

// ServerVersion runs the server with --version and returns the first
// dotted version number in its output.
func (s *Supervisor) ServerVersion(ctx context.Context, path string) (string, error) {
	if err := validateExecutable(path); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	// Some builds exit non-zero after printing the version.
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	version := ParseVersion(string(out))
	if version == "" {
		if err != nil {
			return "", fmt.Errorf("query server version: %w", err)
		}
		return "", fmt.Errorf("no version in output %q", strings.TrimSpace(string(out)))
	}

	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
	return version, nil
}

// CheckVersion compares the installed server version against minVersion and
// logs a warning if it is older. It reports whether the version is acceptable.
func (s *Supervisor) CheckVersion(ctx context.Context, path, minVersion string) (bool, error) {
	version, err := s.ServerVersion(ctx, path)
	if err != nil {
		return false, err
	}
	if minVersion == "" {
		return true, nil
	}
	if !IsAtLeast(version, minVersion) {
		s.logger.Warn("audio server older than required", "version", version, "minimum", minVersion)
		return false, nil
	}
	s.logger.Info("audio server version", "version", version)
	return true, nil
}

// ParseVersion extracts the first dotted version number from output.
func ParseVersion(output string) string {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsAtLeast reports whether version is greater than or equal to minimum.
// Invalid versions never satisfy the minimum.
func IsAtLeast(version, minimum string) bool {
	v, m := canonicalVersion(version), canonicalVersion(minimum)
	if !semver.IsValid(v) || !semver.IsValid(m) {
		return false
	}
	return semver.Compare(v, m) >= 0
}

// canonicalVersion returns the version in canonical semver format.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
