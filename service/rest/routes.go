package rest

import (
	"net/http"
	"strings"
)

// RouteKey derives the rate-limit bucket key for a request. Major
// parameters (channel/guild/webhook ids) stay literal, every other id
// segment collapses to "{id}" so sibling resources share one bucket.
// Message deletes live on their own bucket upstream, so the method joins
// the key for that route.
func RouteKey(method, path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		if !isSnowflake(s) {
			continue
		}
		if i > 0 && isMajor(segs[i-1]) {
			continue // major param stays literal
		}
		segs[i] = "{id}"
	}
	key := strings.Join(segs, "/")
	if method == http.MethodDelete && strings.Contains(key, "messages/{id}") {
		key = method + " " + key
	}
	return key
}

func isMajor(seg string) bool {
	return seg == "channels" || seg == "guilds" || seg == "webhooks"
}

func isSnowflake(s string) bool {
	if len(s) < 15 || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
