package reviews

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Sign computes the upstream's `s` query parameter: a djb2-style hash over
// the deterministically sorted, URL-encoded query string built from params
// (spec.md §4.4). params must not include "s" itself.
func Sign(params map[string]string) string {
	return strconv.FormatUint(uint64(djb2(sortedQueryString(params))), 10)
}

func sortedQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

func djb2(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) ^ uint32(s[i])
	}
	return h
}
