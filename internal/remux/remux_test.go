package remux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

func TestBuildRemuxArgs(t *testing.T) {
	args := buildRemuxArgs("/scratch/in.mp3", "/scratch/in.clean.mp3", Tags{
		Title:   "Some Song",
		Artist:  "Some Channel",
		Comment: "https://example.com/watch?v=abc",
	})

	assert.Equal(t, []string{
		"-y",
		"-loglevel", "error",
		"-i", "/scratch/in.mp3",
		"-vn",
		"-c:a", "copy",
		"-map_metadata", "-1",
		"-metadata", "title=Some Song",
		"-metadata", "artist=Some Channel",
		"-metadata", "comment=https://example.com/watch?v=abc",
		"/scratch/in.clean.mp3",
	}, args)
}

// Tag values are passed as argument-vector entries; quotes and shell
// metacharacters must arrive verbatim rather than being interpreted.
func TestBuildRemuxArgs_HostileTagValues(t *testing.T) {
	args := buildRemuxArgs("/scratch/in.mp3", "/scratch/in.clean.mp3", Tags{
		Title:  `A "quoted" title; rm -rf /`,
		Artist: "$(whoami)",
	})

	assert.Contains(t, args, `-metadata`)
	assert.Contains(t, args, `title=A "quoted" title; rm -rf /`)
	assert.Contains(t, args, `artist=$(whoami)`)
}

func TestCleanSiblingPath(t *testing.T) {
	assert.Equal(t, "/scratch/audio.clean.mp3", cleanSiblingPath("/scratch/audio.mp3"))
	assert.Equal(t, "/scratch/no-extension.clean", cleanSiblingPath("/scratch/no-extension"))
}

// stubFfmpeg writes an executable shell script to a temp dir and
// returns its path.
func stubFfmpeg(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.Nil(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRemux(t *testing.T) {
	t.Run("replaces the original file atomically", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "audio.mp3")
		require.Nil(t, os.WriteFile(input, []byte("original-with-metadata"), 0o644))

		// The stub writes its (remuxed) output to the last argument.
		config := Config{FfmpegBinaryPath: stubFfmpeg(t, `
for arg; do last="$arg"; done
printf 'remuxed-content' > "$last"`)}

		finalPath, err := config.Remux(context.Background(), input, Tags{Title: "T", Artist: "A", Comment: "C"})
		require.Nil(t, err)
		assert.Equal(t, input, finalPath)

		content, err := os.ReadFile(input)
		require.Nil(t, err)
		assert.Equal(t, "remuxed-content", string(content))

		_, err = os.Stat(filepath.Join(dir, "audio.clean.mp3"))
		assert.True(t, os.IsNotExist(err), "temporary clean file should have been renamed away")
	})

	t.Run("non-zero exit surfaces stderr", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "audio.mp3")
		require.Nil(t, os.WriteFile(input, []byte("original"), 0o644))

		config := Config{FfmpegBinaryPath: stubFfmpeg(t, "echo 'Invalid data found when processing input' >&2\nexit 1")}

		_, err := config.Remux(context.Background(), input, Tags{})
		assert.ErrorContains(t, err, "Invalid data found when processing input")
	})

	t.Run("clean exit without output file is a failure", func(t *testing.T) {
		dir := t.TempDir()
		input := filepath.Join(dir, "audio.mp3")
		require.Nil(t, os.WriteFile(input, []byte("original"), 0o644))

		config := Config{FfmpegBinaryPath: stubFfmpeg(t, "exit 0")}

		_, err := config.Remux(context.Background(), input, Tags{})
		assert.ErrorContains(t, err, "remux failed")

		content, readErr := os.ReadFile(input)
		require.Nil(t, readErr)
		assert.Equal(t, "original", string(content), "original file must be untouched on failure")
	})
}

func TestHealthcheck(t *testing.T) {
	t.Run("healthy binary", func(t *testing.T) {
		config := Config{FfmpegBinaryPath: stubFfmpeg(t, "exit 0")}
		assert.Nil(t, config.Healthcheck(context.Background()))
	})

	t.Run("missing binary", func(t *testing.T) {
		config := Config{FfmpegBinaryPath: filepath.Join(t.TempDir(), "nope")}
		assert.ErrorContains(t, config.Healthcheck(context.Background()), "healthcheck failed")
	})
}
