package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams are matched case-insensitively as substrings of query
// parameter names.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
	"signature",
}

const redacted = "[REDACTED]"

// sanitizeURL returns u with credentials and sensitive query values
// redacted. Chat webhook URLs carry their secret in the path, so for those
// hosts only the first path segment is kept.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	safe := *u
	if safe.User != nil {
		safe.User = url.User(safe.User.Username())
	}

	q := safe.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, redacted)
		}
	}
	safe.RawQuery = q.Encode()

	if secretPathHost(safe.Hostname()) {
		parts := strings.SplitN(strings.TrimPrefix(safe.Path, "/"), "/", 2)
		if len(parts) == 2 {
			safe.Path = "/" + parts[0] + "/" + redacted
			safe.RawPath = ""
		}
	}
	return safe.String()
}

func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func secretPathHost(host string) bool {
	switch strings.ToLower(host) {
	case "hooks.slack.com", "discord.com", "discordapp.com", "hooks.zapier.com", "hook.integromat.com", "hook.make.com":
		return true
	}
	return false
}
