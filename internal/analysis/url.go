package analysis

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL trims the input and adds an https scheme when missing.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("url is required")
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// HostOf returns the lower-cased hostname without a leading "www.". Inputs
// without a scheme are accepted.
func HostOf(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// HostVariants lists the URL spellings a legacy row may carry for host.
func HostVariants(host string) []string {
	if host == "" {
		return nil
	}
	return []string{
		host,
		"www." + host,
		"https://" + host,
		"https://www." + host,
		"http://" + host,
		"http://www." + host,
		"https://" + host + "/",
		"https://www." + host + "/",
	}
}
