// Package ytdl wraps the external yt-dlp binary, exposing the two modes
// the server needs from it: a read-only metadata probe, and a full
// audio-extraction download in to a caller-provided working directory.
package ytdl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/adamroke/ytmp3ify/pkg/logger"
)

var log = logger.Get("YtDl")

type Config struct {
	// BinaryPath is the path (or bare name, resolved via PATH) of the
	// yt-dlp executable.
	BinaryPath string `yaml:"binary_path" env:"YTMP3IFY_YTDLP_BINARY" env-default:"yt-dlp"`

	// DefaultCookieFile is consulted when a request carries no cookie
	// material of its own. It is only used if the file exists on disk.
	DefaultCookieFile string `yaml:"default_cookie_file" env:"YTMP3IFY_DEFAULT_COOKIE_FILE" env-default:"~/cookies.txt"`
}

// AudioFormat is the set of extraction targets accepted from clients.
type AudioFormat int

const (
	Best AudioFormat = iota
	MP3
	M4A
	AAC
	FLAC
)

func (f AudioFormat) String() string {
	return []string{"best", "mp3", "m4a", "aac", "flac"}[f]
}

// ParseAudioFormat maps a client-supplied format string to an
// AudioFormat. Unrecognised values are rejected here, before any
// subprocess is spawned on their behalf.
func ParseAudioFormat(raw string) (AudioFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "best":
		return Best, nil
	case "mp3":
		return MP3, nil
	case "m4a":
		return M4A, nil
	case "aac":
		return AAC, nil
	case "flac":
		return FLAC, nil
	default:
		return Best, fmt.Errorf("unsupported audio format %q", raw)
	}
}

// FlattenErrorText normalises the error payloads yt-dlp surfaces, which
// may be a single string or an enumerable of strings, in to one
// newline-joined string.
func FlattenErrorText(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, "\n")
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

// Healthcheck confirms the configured binary can be spawned by asking
// it for its version string.
func (config *Config) Healthcheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, config.BinaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("yt-dlp healthcheck failed: %w", err)
	}

	log.Debugf("yt-dlp healthcheck OK (version %s)\n", strings.TrimSpace(string(out)))
	return nil
}
