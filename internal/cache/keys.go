package cache

import "fmt"

// RateLimitKey namespaces a per-client submission counter.
func RateLimitKey(client string) string {
	return fmt.Sprintf("vidaudio:ratelimit:%s", client)
}
