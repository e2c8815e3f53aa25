package logging

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

// Keys emitted verbatim by MaskField. Market identifiers and outcome labels
// carry no secrets.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"op":        {},
	"method":    {},
	"offerId":   {},
	"dealId":    {},
	"asset":     {},
	"kind":      {},
	"type":      {},
	"outcome":   {},
	"backend":   {},
	"requestId": {},
}

// Keys whose values are connection strings or URLs. Their credentials are
// stripped and the remainder kept so operators can tell targets apart.
var structuredMaskers = map[string]func(string) string{
	"dsn":      MaskDSN,
	"endpoint": MaskEndpoint,
	"url":      MaskEndpoint,
}

// IsAllowlisted reports whether key is logged without redaction.
func IsAllowlisted(key string) bool {
	trimmed := strings.TrimSpace(key)
	if _, ok := redactionAllowlist[trimmed]; ok {
		return true
	}
	for allowed := range redactionAllowlist {
		if strings.EqualFold(allowed, trimmed) {
			return true
		}
	}
	return false
}

// RedactionAllowlist returns the allowlisted keys in sorted order.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns an attribute safe to log. Allowlisted keys pass through,
// DSNs and endpoints lose their credentials and everything else is redacted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	if mask, ok := structuredMaskers[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, mask(value))
	}
	return slog.String(key, RedactedValue)
}

// MaskDSN removes the password from a journal DSN. URL DSNs keep user, host
// and database with the password shown as xxxxx; key=value DSNs keep every pair except password. Plain sqlite
// paths are returned unchanged.
func MaskDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if u, err := url.Parse(trimmed); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Redacted()
	}
	if !strings.Contains(trimmed, "=") {
		return trimmed
	}
	fields := strings.Fields(trimmed)
	for i, field := range fields {
		key, _, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(key, "password") {
			fields[i] = key + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// MaskEndpoint reduces a URL to scheme and host. Paths and queries of webhook
// endpoints often embed tokens.
func MaskEndpoint(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return RedactedValue
	}
	return u.Scheme + "://" + u.Host
}
