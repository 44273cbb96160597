// Package web holds the chat page, its static assets and the legal
// documents, embedded into the binary.
package web

import "embed"

//go:embed templates static content
var FS embed.FS
