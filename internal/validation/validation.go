package validation

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"linkcheck/internal/models"
)

// LinkTypePattern defines the valid link type tag format.
var LinkTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateLinkType checks if a link type tag matches the allowed pattern.
func ValidateLinkType(tag string) bool {
	if tag == "" || len(tag) > 50 {
		return false
	}
	return LinkTypePattern.MatchString(tag)
}

// ValidateURL checks if a URL is valid and uses an allowed scheme (http/https only).
func ValidateURL(urlStr string) (bool, string) {
	if urlStr == "" {
		return false, "URL is required"
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false, "Invalid URL format"
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false, "URL must use http:// or https:// scheme"
	}

	if u.Host == "" {
		return false, "URL must have a valid host"
	}

	return true, ""
}

// ValidateExclusionTarget checks the target of an exclusion rule. Exact rules
// take a full URL, domain rules a bare host name.
func ValidateExclusionTarget(match models.MatchType, target string) (bool, string) {
	target = strings.TrimSpace(target)
	if target == "" {
		return false, "Target is required"
	}
	switch match {
	case models.MatchExact:
		return ValidateURL(target)
	case models.MatchDomain:
		if strings.Contains(target, "://") || strings.ContainsAny(target, "/?# ") {
			return false, "Domain target must be a host name without scheme or path"
		}
		return true, ""
	}
	return false, "Match type must be exact or domain"
}

// ParseIDList parses a comma-separated list of positive ids such as "1,2,3".
// An empty string yields nil.
func ParseIDList(s string) ([]int64, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		ids = append(ids, n)
	}
	return ids, true
}

// IsPrivateIP checks if an IP address is in a private/reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip.IsPrivate() {
		return true
	}

	if ip.IsUnspecified() {
		return true
	}

	// Cloud metadata endpoints (AWS/GCP, Azure)
	metadataIP := net.ParseIP("169.254.169.254")
	if ip.Equal(metadataIP) {
		return true
	}
	azureMetadata := net.ParseIP("168.63.129.16")
	return ip.Equal(azureMetadata)
}

// IsPrivateHost checks if a hostname resolves to a private IP address.
// Returns true if the host is private/blocked, false if it's safe to access.
func IsPrivateHost(host string) (bool, error) {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// If we can't resolve, be conservative and block
		return true, err
	}

	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return true, nil
		}
	}

	return false, nil
}

// ValidateRecheckTarget validates a URL submitted for an on-demand re-check.
// With blockPrivate set, hosts resolving to private or metadata addresses are
// refused, so the API cannot be used to probe the internal network.
func ValidateRecheckTarget(urlStr string, blockPrivate bool) (bool, string) {
	valid, msg := ValidateURL(urlStr)
	if !valid || !blockPrivate {
		return valid, msg
	}

	u, _ := url.Parse(urlStr)
	isPrivate, err := IsPrivateHost(u.Host)
	if err != nil {
		return false, "Cannot resolve hostname"
	}
	if isPrivate {
		return false, "URL points to a private or reserved IP address"
	}

	return true, ""
}
