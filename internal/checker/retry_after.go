package checker

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryAfter returns the absolute time named by the first usable Retry-After
// value: either delay seconds from now or an HTTP date. Zero means none.
func retryAfter(h http.Header, now time.Time) time.Time {
	for _, v := range h.Values("Retry-After") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil {
			if secs < 0 {
				continue
			}
			return now.Add(time.Duration(secs) * time.Second)
		}
		if t, err := http.ParseTime(v); err == nil {
			return t
		}
	}
	return time.Time{}
}
