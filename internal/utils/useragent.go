package utils

import (
	ua "github.com/mssola/user_agent"
)

// ClientInfo is what the request logger records about a caller
type ClientInfo struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

// ParseUserAgent extracts browser and platform details from a User-Agent header.
// Service-to-service calls (Go-http-client) come back with Browser set to the
// client name.
func ParseUserAgent(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{Browser: "Unknown", OS: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}
	if version != "" {
		name += " " + version
	}

	os := parser.OS()
	if os == "" {
		os = "Unknown"
	}

	return ClientInfo{
		Browser: name,
		OS:      os,
		Mobile:  parser.Mobile(),
		Bot:     parser.Bot(),
	}
}
