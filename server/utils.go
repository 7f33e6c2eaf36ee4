package server

import (
	"regexp"
	"strings"
	"sync"
)

// youTubeURLPatterns match watch, youtu.be share and /live/ URLs. They are
// compiled on first use.
var youTubeURLPatterns = sync.OnceValue(func() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?(?:[^#]*&)?v=|youtu\.be/)([A-Za-z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/live/([A-Za-z0-9_-]{11})`),
	}
})

var bareVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// parseYouTubeVideoID accepts a stream URL or a bare 11-character video id.
func parseYouTubeVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if bareVideoID.MatchString(s) {
		return s, true
	}
	for _, re := range youTubeURLPatterns() {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}
