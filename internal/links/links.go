// Package links builds the public URLs the service hands out.
package links

import (
	"net/url"
	"path"
	"strings"
)

const MagicLinkPath = "/magic-link"

// MagicLink is the sign-in URL mailed to a user.
func MagicLink(baseURL, token string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return baseURL + MagicLinkPath + "?token=" + url.QueryEscape(token)
}

// HostedKey is the object key for a paid hosting upload.
func HostedKey(prefix, objectID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return objectID + ".mp4"
	}
	return prefix + "/" + objectID + ".mp4"
}

// HostedObject is the public download URL for key.
func HostedObject(publicBaseURL, key string) string {
	publicBaseURL = strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return publicBaseURL + "/" + strings.Join(segments, "/")
}

// ParseHostedKey recovers the object key from a URL produced by
// HostedObject. Keys outside prefix are rejected.
func ParseHostedKey(publicBaseURL, prefix, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if raw == "" || !strings.HasPrefix(raw, base+"/") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	key := strings.TrimPrefix(u.Path, strings.TrimRight(baseURL.Path, "/")+"/")
	if key == "" || path.Clean("/"+key) != "/"+key {
		return "", false
	}

	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasPrefix(key, prefix+"/") {
		return "", false
	}
	if !strings.HasSuffix(key, ".mp4") {
		return "", false
	}
	return key, true
}
