// Package release resolves the latest upstream release to the download URL
// of the client archive through the GitHub releases API.
package release
