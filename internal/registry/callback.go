package registry

import (
	"net/url"
	"strings"
)

// ExtractAuthCode pulls the authorization code out of a callback URL. It
// tries the `code` query parameter, then a `code` fragment parameter, then a
// `/code/<value>` path segment pair. Returns false when nothing matches so
// the caller can surface an invalid-callback failure.
func ExtractAuthCode(callbackURL string) (string, bool) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return "", false
	}

	if code := parsed.Query().Get("code"); code != "" {
		return code, true
	}

	if parsed.Fragment != "" {
		if fragment, err := url.ParseQuery(parsed.Fragment); err == nil {
			if code := fragment.Get("code"); code != "" {
				return code, true
			}
		}
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, segment := range segments {
		if segment == "code" && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1], true
		}
	}

	return "", false
}
