package rest

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteKeyMajorParams(t *testing.T) {
	// major ids stay literal
	require.Equal(t,
		"channels/290926798626357250/messages",
		RouteKey(http.MethodPost, "/channels/290926798626357250/messages"))
	require.Equal(t,
		"guilds/290926798626357250/roles",
		RouteKey(http.MethodPost, "/guilds/290926798626357250/roles"))

	// minor ids collapse so siblings share a bucket
	require.Equal(t,
		RouteKey(http.MethodPatch, "/channels/290926798626357250/messages/111111111111111111"),
		RouteKey(http.MethodPatch, "/channels/290926798626357250/messages/222222222222222222"))

	// different major params are distinct buckets
	require.NotEqual(t,
		RouteKey(http.MethodGet, "/channels/290926798626357250"),
		RouteKey(http.MethodGet, "/channels/290926798626357251"))
}

func TestRouteKeyDeleteMessageOwnBucket(t *testing.T) {
	patch := RouteKey(http.MethodPatch, "/channels/290926798626357250/messages/111111111111111111")
	del := RouteKey(http.MethodDelete, "/channels/290926798626357250/messages/111111111111111111")
	require.NotEqual(t, patch, del)
}

func TestRouteKeyNonSnowflakeSegments(t *testing.T) {
	// webhook tokens and words are not masked
	require.Equal(t,
		"webhooks/290926798626357250/token-abc",
		RouteKey(http.MethodPost, "/webhooks/290926798626357250/token-abc"))
	require.Equal(t, "gateway/bot", RouteKey(http.MethodGet, "/gateway/bot"))
}
