package client

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ChannelURL derives the progress socket URL for projectID from the HTTP base
// URL: https becomes wss, http becomes ws, and the path /ws/{project_id} is
// appended to any base path.
func ChannelURL(baseURL string, projectID int64) (string, error) {
	if projectID <= 0 {
		return "", fmt.Errorf("project id must be > 0, got %d", projectID)
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("base url must include a host")
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + strconv.FormatInt(projectID, 10)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
