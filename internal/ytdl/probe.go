package ytdl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

const (
	PlaceholderTitle   = "Unknown Title"
	PlaceholderChannel = "Unknown Channel"
)

// ProbeResult is the best-effort metadata for a source URL. Degraded
// is set when probing failed and the fields hold placeholders.
type ProbeResult struct {
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	CanonicalURL string `json:"canonical_url"`
	Degraded     bool   `json:"degraded"`
}

// PlaceholderResult is the ProbeResult substituted when probing a URL
// fails. The canonical URL falls back to the original input URL.
func PlaceholderResult(url string) ProbeResult {
	return ProbeResult{
		Title:        PlaceholderTitle,
		Channel:      PlaceholderChannel,
		CanonicalURL: url,
		Degraded:     true,
	}
}

// probePayload is the subset of yt-dlp's --dump-json output we care
// about. 'channel' is preferred, with 'uploader' as the fallback some
// extractors use instead.
type probePayload struct {
	Title      string `json:"title"`
	Channel    string `json:"channel"`
	Uploader   string `json:"uploader"`
	WebpageURL string `json:"webpage_url"`
}

// Probe asks yt-dlp for the metadata of the given URL without
// downloading anything. Callers are expected to tolerate failure by
// substituting PlaceholderResult; Probe itself never partially
// populates its result.
func (config *Config) Probe(ctx context.Context, url string, cookies CookieSource) (ProbeResult, error) {
	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
	}
	args = append(args, resolveCookies(cookies, config.DefaultCookieFile).args()...)
	args = append(args, url)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, config.BinaryPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := extractErrorLines(stderr.String()); msg != "" {
			return ProbeResult{}, fmt.Errorf("probe failed: %s", msg)
		}
		return ProbeResult{}, fmt.Errorf("probe failed: %w", err)
	}

	var payload probePayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("probe returned malformed metadata: %w", err)
	}

	channel := payload.Channel
	if channel == "" {
		channel = payload.Uploader
	}

	canonical := payload.WebpageURL
	if canonical == "" {
		canonical = url
	}

	result := ProbeResult{Title: payload.Title, Channel: channel, CanonicalURL: canonical}
	if result.Title == "" {
		result.Title = PlaceholderTitle
	}
	if result.Channel == "" {
		result.Channel = PlaceholderChannel
	}

	return result, nil
}

// extractErrorLines pulls the ERROR-prefixed lines out of yt-dlp
// stderr output, flattening them to a single string. If no such lines
// exist, the whole (trimmed) stream is returned.
func extractErrorLines(stderr string) string {
	var errorLines []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			errorLines = append(errorLines, line)
		}
	}

	if len(errorLines) > 0 {
		return FlattenErrorText(errorLines)
	}

	return strings.TrimSpace(stderr)
}
