// Package remux drives ffmpeg as a one-shot subprocess to strip all
// container metadata from an audio file and reinsert exactly three
// tags, using stream copy so the audio bytes are untouched.
package remux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/adamroke/ytmp3ify/pkg/logger"
)

var log = logger.Get("Remux")

type Config struct {
	// FfmpegBinaryPath is the path (or bare name, resolved via PATH)
	// of the ffmpeg executable.
	FfmpegBinaryPath string `yaml:"ffmpeg_binary_path" env:"YTMP3IFY_FFMPEG_BINARY" env-default:"ffmpeg"`
}

// Tags is the complete set of container metadata the output file will
// carry. Everything else is stripped.
type Tags struct {
	Title   string
	Artist  string
	Comment string
}

// Remux rewrites the container metadata of the file at inputPath so it
// holds only the provided tags, then replaces the original file with
// the rewritten one via an atomic rename. The returned path equals
// inputPath on success.
//
// Arguments are passed to ffmpeg as an argument vector, never through
// a shell, so tag values cannot alter the command.
func (config *Config) Remux(ctx context.Context, inputPath string, tags Tags) (string, error) {
	tempPath := cleanSiblingPath(inputPath)
	args := buildRemuxArgs(inputPath, tempPath, tags)
	log.Debugf("Spawning %s %v\n", config.FfmpegBinaryPath, args)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, config.FfmpegBinaryPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", remuxError(stderr.String(), err)
	}

	if _, err := os.Stat(tempPath); err != nil {
		return "", remuxError(stderr.String(), fmt.Errorf("remuxed file was not produced"))
	}

	if err := os.Rename(tempPath, inputPath); err != nil {
		return "", fmt.Errorf("failed to move remuxed file in to place: %w", err)
	}

	return inputPath, nil
}

// Healthcheck confirms the configured binary can be spawned.
func (config *Config) Healthcheck(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, config.FfmpegBinaryPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg healthcheck failed: %w", err)
	}

	return nil
}

func buildRemuxArgs(inputPath string, outputPath string, tags Tags) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-c:a", "copy",
		"-map_metadata", "-1",
		"-metadata", "title=" + tags.Title,
		"-metadata", "artist=" + tags.Artist,
		"-metadata", "comment=" + tags.Comment,
		outputPath,
	}
}

// cleanSiblingPath derives the temporary output path for a remux,
// keeping the extension so ffmpeg infers the same container format.
func cleanSiblingPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + ".clean" + ext
}

// remuxError surfaces the subprocess stderr as the error detail, with
// a generic fallback when that stream was empty.
func remuxError(stderr string, cause error) error {
	if detail := strings.TrimSpace(stderr); detail != "" {
		return fmt.Errorf("remux failed: %s", detail)
	}

	return fmt.Errorf("remux failed: %w", cause)
}
