package version

// Version is the current version of the Grit server
const Version = "0.1.0"

// UserAgent returns the User-Agent string for outbound HTTP requests
func UserAgent() string {
	return "grit-server/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "grit-server/" + Version
}
