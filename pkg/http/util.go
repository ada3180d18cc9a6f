package http

import (
	"time"

	xutil "MarketPull/pkg/util"
)

// ParseTimeDefault parses a time query parameter, falling back to def when
// it is empty or unparseable. Accepts RFC3339 and unix seconds.
func ParseTimeDefault(s string, def time.Time) time.Time {
	return xutil.ParseTimeDefault(s, def)
}
