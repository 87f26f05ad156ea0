// Package version exposes the build version stamped via -ldflags.
package version

// value is overridden at link time:
//
//	go build -ldflags "-X github.com/bkyoung/reviewsync/internal/version.value=v1.2.3"
var value = "dev"

// Value returns the build version.
func Value() string {
	return value
}
