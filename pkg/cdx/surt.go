// Package cdx implements the record index formats stored in a container:
// SURT keys, 14-digit timestamps, CDXJ lines, the block-compressed
// index.cdx.gz stream and its sparse index.idx companion.
package cdx

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// SURT returns the sort-friendly key for rawURL. The scheme and a leading
// "www." are dropped, host labels are reversed and comma-joined, default
// ports are removed and query parameters are sorted. URLs that are not
// http(s), such as urn: identifiers, are returned lowercased.
//
//	https://www.Example.com/a?b=2&a=1  ->  com,example)/a?a=1&b=2
func SURT(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return strings.ToLower(raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")

	var key strings.Builder
	if ip := net.ParseIP(host); ip != nil {
		key.WriteString(host)
	} else {
		labels := strings.Split(host, ".")
		for i := len(labels) - 1; i >= 0; i-- {
			key.WriteString(labels[i])
			if i > 0 {
				key.WriteByte(',')
			}
		}
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		key.WriteByte(':')
		key.WriteString(port)
	}
	key.WriteByte(')')

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key.WriteString(strings.ToLower(path))

	if u.RawQuery != "" {
		params := strings.Split(u.RawQuery, "&")
		sort.Strings(params)
		key.WriteByte('?')
		key.WriteString(strings.ToLower(strings.Join(params, "&")))
	}
	return key.String()
}
