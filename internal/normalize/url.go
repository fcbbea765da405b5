package normalize

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters that carry click attribution or session
// state rather than content. They churn between renderings of the same page,
// so they are stripped before hashing.
var trackingParams = map[string]bool{
	"gclid":     true,
	"fbclid":    true,
	"msclkid":   true,
	"_ga":       true,
	"mc_cid":    true,
	"mc_eid":    true,
	"sessionid": true,
	"sid":       true,
	"timestamp": true,
	"_t":        true,
	"_hsenc":    true,
	"_hsmi":     true,
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return trackingParams[k] || strings.HasPrefix(k, "utm_")
}

// CleanURL strips tracking query parameters and the fragment from a URL while
// preserving the path, the remaining query parameters, and their order. A URL
// that cannot be parsed is returned unchanged.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if u.RawQuery != "" {
		// url.Values is a map and loses parameter order, so filter the raw
		// query string pair by pair.
		pairs := strings.Split(u.RawQuery, "&")
		kept := pairs[:0]
		for _, pair := range pairs {
			key := pair
			if i := strings.IndexByte(pair, '='); i >= 0 {
				key = pair[:i]
			}
			if decoded, err := url.QueryUnescape(key); err == nil {
				key = decoded
			}
			if !isTrackingParam(key) {
				kept = append(kept, pair)
			}
		}
		u.RawQuery = strings.Join(kept, "&")
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
