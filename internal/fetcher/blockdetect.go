package fetcher

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot response detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// challengePageLimit bounds the body size inspected for interstitial
// markers. Real listing pages are far larger than challenge pages.
const challengePageLimit = 64 << 10

// DetectBlock reports whether resp is an anti-bot interstitial rather than
// the requested page. Blocked responses are retried like transient failures.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	if len(body) > challengePageLimit {
		return false, BlockNone
	}

	lower := bytes.ToLower(body)

	if bytes.Contains(lower, []byte("checking your browser")) ||
		bytes.Contains(lower, []byte("cf-browser-verification")) ||
		bytes.Contains(lower, []byte("<title>just a moment")) {
		return true, BlockCloudflare
	}

	if bytes.Contains(lower, []byte("g-recaptcha")) ||
		bytes.Contains(lower, []byte("h-captcha")) ||
		bytes.Contains(lower, []byte("captcha-delivery")) {
		return true, BlockCaptcha
	}

	// JS-only shell: tiny body with a meta refresh or a noscript wall.
	if len(body) < 2000 {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return true, BlockJSShell
		}
		if bytes.Contains(lower, []byte(`meta http-equiv="refresh"`)) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
