package ingest

import "strings"

// noisePrefixes is the collector's own health surface.
var noisePrefixes = []string{
	"/healthz",
}

// noisePatterns marks the metrics API namespace (wherever it is mounted) and
// browser favicon chatter. Nothing broader: a measured upstream may serve
// routes like /api/orders.json or /static/report, and those are real traffic.
var noisePatterns = []string{
	"/metrics",
	"favicon",
}

// IsNoiseRoute reports whether a route belongs to the collector's own
// telemetry/health namespace. Noise payloads are accepted but neither
// persisted nor broadcast, so the collector never measures itself.
func IsNoiseRoute(route string) bool {
	lower := strings.ToLower(route)
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, pattern := range noisePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
