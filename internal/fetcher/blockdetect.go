package fetcher

import (
	"net/http"
	"strings"
)

// BlockType names the anti-bot mechanism behind a refused response.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
)

// DetectBlock inspects a 403 or 503 response for challenge pages. Other
// statuses always report BlockNone.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil || (resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusServiceUnavailable) {
		return BlockNone
	}

	if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" ||
		strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
		return BlockCloudflare
	}

	lower := strings.ToLower(string(body))
	switch {
	case strings.Contains(lower, "checking your browser"),
		strings.Contains(lower, "cf-browser-verification"),
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge"):
		return BlockCloudflare
	case strings.Contains(lower, "captcha"):
		return BlockCaptcha
	}
	return BlockNone
}
