package youtube

import (
	"net/url"
	"strings"
)

const shortsPrefix = "/shorts/"

var allowedHosts = map[string]struct{}{
	"youtube.com":     {},
	"www.youtube.com": {},
	"youtu.be":        {},
}

// ExtractVideoId parses a watch-page URL and returns the video id.
// It returns "" for hosts outside the allow-list and for URLs no id
// can be extracted from.
func ExtractVideoId(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return ""
	}

	host := parsed.Hostname()
	if _, ok := allowedHosts[host]; !ok {
		return ""
	}

	if host == "youtu.be" {
		return strings.TrimPrefix(parsed.Path, "/")
	}

	if strings.HasPrefix(parsed.Path, shortsPrefix) {
		id := strings.TrimPrefix(parsed.Path, shortsPrefix)
		if i := strings.IndexByte(id, '/'); i != -1 {
			id = id[:i]
		}
		return id
	}

	return parsed.Query().Get("v")
}
