package auction

import (
	"regexp"
	"strconv"
	"time"
)

// Listing posts embed their deadline as a chat timestamp token <t:UNIX>.
var timestampRegex = regexp.MustCompile(`<t:(\d+)>`)

// Detect scans free-form message text for an embedded end-timestamp token and
// returns the deadline it encodes, in UTC. It reports false when the text
// contains no token. Detect never mutates state; callers decide whether to
// register a pending auction from the result.
func Detect(text string) (time.Time, bool) {
	m := timestampRegex.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}
