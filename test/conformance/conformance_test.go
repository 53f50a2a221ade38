//go:build conformance

package conformance

import (
	"os"
	"testing"
)

var (
	baseURL   string
	authToken string
	// hasUpstream enables tests that reach the generation API and WordPress.
	hasUpstream bool
)

func TestMain(m *testing.M) {
	baseURL = os.Getenv("YODEL_TARGET")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	authToken = os.Getenv("YODEL_AUTH_TOKEN")
	if authToken == "" {
		authToken = "test-token"
	}
	hasUpstream = os.Getenv("YODEL_UPSTREAM") == "true"
	os.Exit(m.Run())
}
