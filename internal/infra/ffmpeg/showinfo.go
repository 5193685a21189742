package ffmpeg

import (
	"regexp"
	"strings"
)

// showinfoRE captures the key:value pairs of a showinfo line. Bracketed
// values such as plane_checksum:[7BFA6F14 ED4B1E62 92900AB5] contain spaces
// and are matched as a unit.
var showinfoRE = regexp.MustCompile(`(?P<key>\w+):\s*(?P<value>\[.*?]|\S+)`)

// parseShowinfo extracts frame properties from one stderr line of the
// showinfo filter into props. Lines emitted by anything other than the
// filter, and the filter's own "config" lines, carry no frame data and are
// reported as not parsed.
func parseShowinfo(line string, props map[string]string) bool {
	if !strings.HasPrefix(line, "[Parsed_showinfo_") {
		return false
	}
	if strings.Contains(line, "] config") {
		return false
	}

	for _, m := range showinfoRE.FindAllStringSubmatch(line, -1) {
		props[m[1]] = m[2]
	}
	return true
}
