// Package media verifies produced audio artifacts by reading their
// container information via ffprobe.
package media

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
)

// FileInfo summarises the container of a produced file.
type FileInfo struct {
	StreamCount     int
	AudioOnly       bool
	DurationSeconds float64
}

type Config struct {
	// FfprobeBinaryPath is the path (or bare name, resolved via PATH)
	// of the ffprobe executable.
	FfprobeBinaryPath string `yaml:"ffprobe_binary_path" env:"YTMP3IFY_FFPROBE_BINARY" env-default:"ffprobe"`
}

// Inspect probes the file at the given path and confirms it holds at
// least one stream. A file whose streams all report zero frame
// dimensions is considered audio-only.
func (config *Config) Inspect(path string) (*FileInfo, error) {
	metadata, err := probeFile(config.FfprobeBinaryPath, path)
	if err != nil {
		return nil, err
	}

	streams := metadata.GetStreams()
	if len(streams) == 0 {
		return nil, errors.New("produced file contains no streams")
	}

	info := FileInfo{StreamCount: len(streams), AudioOnly: true}
	for _, stream := range streams {
		if stream.GetWidth() > 0 || stream.GetHeight() > 0 {
			info.AudioOnly = false
		}
	}

	if duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64); err == nil {
		info.DurationSeconds = duration
	}

	return &info, nil
}

func probeFile(ffprobePath string, path string) (transcoder.Metadata, error) {
	cfg := ffmpeg.Config{FfprobeBinPath: ffprobePath}
	transcoder := ffmpeg.New(&cfg).Input(path)
	metadata, err := transcoder.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %s", err.Error())
	}

	return metadata, nil
}
