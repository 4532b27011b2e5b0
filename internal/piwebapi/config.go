package piwebapi

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ServerConfig identifies the PI Web API endpoint and the data server that
// receives this device's points. It is fixed for the lifetime of a Session.
type ServerConfig struct {
	// Host is the address of the PI Web API server (IP or hostname, optional port).
	Host string
	// Credentials is the base64 encoding of "user:password" used for basic auth.
	Credentials string
	// DBWebID is the WebID of the PI data server that owns the points.
	DBWebID string
	// DeviceName disambiguates tags of several devices sharing one historian.
	DeviceName string
}

// BasicCredentials encodes a user/password pair the way ServerConfig.Credentials expects.
func BasicCredentials(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}

// Validate reports the first missing field.
func (c ServerConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return errors.New("pi host is required")
	case c.Credentials == "":
		return errors.New("pi credentials are required")
	case c.DBWebID == "":
		return errors.New("pi db_webid is required")
	case c.DeviceName == "":
		return errors.New("pi device_name is required")
	}
	return nil
}

// BaseURL returns the root of the PI Web API, always with a trailing slash.
func (c ServerConfig) BaseURL() string {
	return "https://" + strings.TrimSpace(c.Host) + "/piwebapi/"
}

func (c ServerConfig) pointsURL() string {
	return c.BaseURL() + "dataservers/" + c.DBWebID + "/points"
}

func (c ServerConfig) streamValueURL(webID string) string {
	return c.BaseURL() + "streams/" + webID + "/Value"
}

func (c ServerConfig) pointSourceURL(webID string) string {
	return c.BaseURL() + "points/" + webID + "/attributes/pointsource"
}

func (c ServerConfig) batchURL() string {
	return c.BaseURL() + "batch/"
}
