package ytdl

import (
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// CookieSource carries the cookie material supplied on a single
// request. Both fields are optional.
type CookieSource struct {
	File   string
	Header string
}

type cookieMode int

const (
	cookieNone cookieMode = iota
	cookieFile
	cookieHeader
)

// resolvedCookies is the outcome of applying the precedence rules to a
// CookieSource. Exactly one mode is active.
type resolvedCookies struct {
	mode  cookieMode
	value string
}

// resolveCookies applies the cookie precedence rules: an explicit file
// wins, then an explicit header, then the process-wide default cookie
// file if it exists on disk, and finally no cookies at all. A tilde
// prefix on either file path is expanded to the users home directory.
func resolveCookies(source CookieSource, defaultFile string) resolvedCookies {
	if source.File != "" {
		return resolvedCookies{cookieFile, expandPath(source.File)}
	}

	if source.Header != "" {
		return resolvedCookies{cookieHeader, source.Header}
	}

	if defaultFile != "" {
		path := expandPath(defaultFile)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return resolvedCookies{cookieFile, path}
		}
	}

	return resolvedCookies{cookieNone, ""}
}

// args returns the yt-dlp arguments for this cookie resolution. When no
// cookie material is available we instruct yt-dlp to impersonate a
// mobile client instead, which bypasses some anti-bot checks. The two
// are mutually exclusive.
func (c resolvedCookies) args() []string {
	switch c.mode {
	case cookieFile:
		return []string{"--cookies", c.value}
	case cookieHeader:
		return []string{"--add-headers", "Cookie:" + c.value}
	default:
		return []string{"--extractor-args", "youtube:player_client=ios"}
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if expanded, err := homedir.Expand(path); err == nil {
			return expanded
		}
	}

	return path
}
