package supervisor

import (
	"regexp"
	"strconv"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// portRules are tried in order; the first match wins. Detection is best
// effort: a framework that prints an unusual banner is simply not sniffed.
var portRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{2,5})`),
	regexp.MustCompile(`(?i)listening\s+(?:on|at)\s+(?:port\s+)?:?(\d{2,5})\b`),
	regexp.MustCompile(`(?i)(?:running|started|serving|server)\s+(?:on|at)\s+(?:port\s+)?:?(\d{2,5})\b`),
	regexp.MustCompile(`(?i)\bport[:=\s]+(\d{2,5})\b`),
}

// notAnnouncement matches lines that name a port the server itself does not
// listen on, such as proxy targets and collision notices.
var notAnnouncement = regexp.MustCompile(`(?i)proxy|->|=>|\bin use\b|already (?:running|in use)|trying another|eaddrinuse|econnrefused`)

var accessLog = regexp.MustCompile(`"(?:GET|HEAD|POST|PUT|PATCH|DELETE|OPTIONS) \S+ HTTP/\d(?:\.\d)?" (?:2\d\d|304)\b`)

func stripANSI(s string) string { return ansiEscape.ReplaceAllString(s, "") }

// sniffPort extracts a listening port announced in line. Ports outside the
// user range are ignored.
func sniffPort(line string) (int, bool) {
	if isAccessLog(line) || notAnnouncement.MatchString(line) {
		return 0, false
	}
	for _, re := range portRules {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		p, err := strconv.Atoi(m[1])
		if err != nil || p < 1024 || p > 65535 {
			return 0, false
		}
		return p, true
	}
	return 0, false
}

// isAccessLog reports whether line looks like a successful HTTP request log.
func isAccessLog(line string) bool { return accessLog.MatchString(line) }
