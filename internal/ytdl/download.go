package ytdl

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// outputTemplate embeds the uploader and title in the produced file
// name; combined with --restrict-filenames this keeps names shell and
// filesystem safe.
const outputTemplate = "audio - %(uploader)s - %(title)s.%(ext)s"

var progressPattern = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%`)

// DownloadRequest describes one full audio extraction. The working
// directory must exist and should be private to this request; the
// produced file is written inside it and ownership transfers to the
// caller on success.
type DownloadRequest struct {
	URL              string
	Format           AudioFormat
	Cookies          CookieSource
	WorkingDirectory string

	// OnProgress, if non-nil, receives download percentage updates
	// scraped from the subprocess output.
	OnProgress func(percent float64)
}

// Download runs yt-dlp to fetch and extract the audio for the request,
// returning the absolute path of the produced file. The subprocess is
// bound to ctx; cancelling it kills the download.
func (config *Config) Download(ctx context.Context, request DownloadRequest) (string, error) {
	args := config.buildDownloadArgs(request)
	log.Debugf("Spawning %s %v\n", config.BinaryPath, args)

	cmd := exec.CommandContext(ctx, config.BinaryPath, args...)
	cmd.Dir = request.WorkingDirectory

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to attach to downloader output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to spawn downloader: %w", err)
	}

	reportedPath := scanDownloadOutput(stdout, request.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if msg := extractErrorLines(stderr.String()); msg != "" {
			return "", fmt.Errorf("download failed: %s", msg)
		}
		return "", fmt.Errorf("download failed: %w", err)
	}

	return resolveOutputPath(reportedPath, request.WorkingDirectory)
}

// buildDownloadArgs assembles the full argument vector for a download.
// Metadata and thumbnail embedding are explicitly disabled; container
// tags are rewritten after the fact so their content stays under our
// control.
func (config *Config) buildDownloadArgs(request DownloadRequest) []string {
	args := []string{
		"--no-playlist",
		"--extract-audio",
		"--audio-format", request.Format.String(),
		"--audio-quality", "0",
		"--format", "bestaudio/best",
		"--restrict-filenames",
		"--no-check-certificates",
		"--force-overwrites",
		"--no-embed-metadata",
		"--no-embed-thumbnail",
		"--newline",
		"--no-simulate",
		"--print", "after_move:filepath",
		"--output", filepath.Join(request.WorkingDirectory, outputTemplate),
	}

	args = append(args, resolveCookies(request.Cookies, config.DefaultCookieFile).args()...)
	return append(args, request.URL)
}

// scanDownloadOutput consumes the subprocess stdout line by line,
// forwarding progress percentages and capturing the final file path
// printed by the after_move hook. The last non-status line wins.
func scanDownloadOutput(stdout io.Reader, onProgress func(float64)) string {
	var reportedPath string

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if onProgress != nil {
				if match := progressPattern.FindStringSubmatch(line); match != nil {
					if percent, err := strconv.ParseFloat(match[1], 64); err == nil {
						onProgress(percent)
					}
				}
			}

			continue
		}

		reportedPath = line
	}

	return reportedPath
}

// resolveOutputPath validates the path the downloader claims to have
// produced. If it's missing or doesn't exist, the most recently
// modified file in the working directory is selected instead; the
// directory is private to this request so that heuristic is safe here.
func resolveOutputPath(reported string, dir string) (string, error) {
	if reported != "" {
		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}

		log.Warnf("Downloader reported path %s which does not exist, scanning working directory\n", reported)
	}

	newest, err := newestFile(dir)
	if err != nil {
		return "", err
	}

	return newest, nil
}

func newestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to scan working directory: %w", err)
	}

	var newestPath string
	var newestMod int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if mod := info.ModTime().UnixNano(); mod > newestMod {
			newestMod = mod
			newestPath = filepath.Join(dir, entry.Name())
		}
	}

	if newestPath == "" {
		return "", fmt.Errorf("no output file was produced in %s", dir)
	}

	return newestPath, nil
}
