// Package release fetches manifests and artifacts from a release host,
// verifying every payload against a detached Ed25519 signature before any
// byte is handed to a caller.
package release

import "fmt"

// DefaultURLPrefix builds the GitHub releases download prefix for an
// owner/name repository slug.
func DefaultURLPrefix(repository string) string {
	return fmt.Sprintf("https://github.com/%s/releases/download/", repository)
}

// FileURL joins a URL prefix, build identity and file name into the full
// download URL. The prefix must end in "/".
func FileURL(urlPrefix, buildID, fileName string) string {
	return fmt.Sprintf("%s%s/%s", urlPrefix, buildID, fileName)
}
