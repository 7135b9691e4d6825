package precache

import (
	"net/url"
	"regexp"
	"strings"
)

// CacheKey appends param=value to the query of rawURL unless the path
// matches dontBust.
func CacheKey(rawURL, param, value string, dontBust *regexp.Regexp) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if dontBust != nil && dontBust.MatchString(u.Path) {
		return u.String(), nil
	}

	pair := url.QueryEscape(param) + "=" + url.QueryEscape(value)
	if u.RawQuery != "" {
		u.RawQuery += "&" + pair
	} else {
		u.RawQuery = pair
	}
	return u.String(), nil
}

// StripIgnoredParams drops the fragment and every query parameter whose
// name matches one of ignored. The order of the remaining parameters and
// their encoding are preserved.
func StripIgnoredParams(rawURL string, ignored []*regexp.Regexp) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery == "" {
		u.ForceQuery = false
		return u.String(), nil
	}

	var kept []string
	for _, kv := range strings.Split(u.RawQuery, "&") {
		name, _, _ := strings.Cut(kv, "=")
		if !matchesAny(ignored, name) {
			kept = append(kept, kv)
		}
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String(), nil
}

// AddDirectoryIndex appends index to the path of rawURL when it ends in a
// slash.
func AddDirectoryIndex(rawURL, index string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(u.Path, "/") {
		u.Path += index
		u.RawPath = ""
	}
	return u.String(), nil
}

// IsPathWhitelisted reports whether the path of rawURL matches any of
// whitelist. An empty whitelist allows everything.
func IsPathWhitelisted(whitelist []*regexp.Regexp, rawURL string) bool {
	if len(whitelist) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return matchesAny(whitelist, u.Path)
}

// Scope returns the directory URL of the worker location, the prefix of
// every URL the worker controls.
func Scope(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	dir, err := u.Parse("./")
	if err != nil {
		return "", err
	}
	dir.RawQuery = ""
	dir.Fragment = ""
	return dir.String(), nil
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
