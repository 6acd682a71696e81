package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// CanonicalString builds the signing string for a webhook payload: the
// signature field itself and empty/nested values are dropped, the remaining
// keys are sorted, and each pair is URL-encoded and joined as key=value&...
func CanonicalString(payload map[string]interface{}) string {
	keys := make([]string, 0, len(payload))
	values := make(map[string]string, len(payload))

	for key, raw := range payload {
		if key == "signature" {
			continue
		}
		val, ok := scalarString(raw)
		if !ok || val == "" {
			continue
		}
		keys = append(keys, key)
		values[key] = val
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(values[key]))
	}
	return strings.Join(pairs, "&")
}

// Sign computes the hex HMAC-SHA256 of the canonical payload string.
func Sign(payload map[string]interface{}, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature against the shared secret using
// a constant-time comparison. It fails closed: a missing secret or signature
// is a verification failure, never a pass.
func VerifySignature(payload map[string]interface{}, signature, secret string) bool {
	if secret == "" || signature == "" || payload == nil {
		return false
	}

	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// scalarString renders a scalar payload value for signing. Nested objects
// and arrays are excluded from the canonical string.
func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		// JSON numbers decode as float64; keep integers undecorated
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

// hasStructuralFields is the reduced-trust fallback applied when a deployment
// runs without a webhook secret: the payload must at least carry an order
// reference and a status field.
func hasStructuralFields(payload map[string]interface{}, refKeys, statusKeys []string) bool {
	present := func(keys []string) bool {
		for _, key := range keys {
			if val, ok := scalarString(payload[key]); ok && val != "" {
				return true
			}
		}
		return false
	}
	return present(refKeys) && present(statusKeys)
}
