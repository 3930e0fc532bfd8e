// Package registry fetches package publish history from an npm-compatible
// registry.
package registry

import (
	"context"
)

// reserved keys of the registry "time" document that are not versions
const (
	timeKeyCreated  = "created"
	timeKeyModified = "modified"
)

// PublishTime is a version and its raw ISO-8601 publish timestamp.
type PublishTime struct {
	Version   string
	Published string
}

// Metadata is the publish history of one package. Times keeps the order the
// registry returned and never contains the created/modified bookkeeping keys.
type Metadata struct {
	Name   string
	Latest string
	Times  []PublishTime
}

// PublishedAt returns the raw publish timestamp of version.
func (m *Metadata) PublishedAt(version string) (string, bool) {
	for _, t := range m.Times {
		if t.Version == version {
			return t.Published, true
		}
	}
	return "", false
}

// Client fetches package metadata from a registry.
type Client interface {
	FetchMetadata(ctx context.Context, name string) (*Metadata, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, name string) (*Metadata, error)

// FetchMetadata calls f(ctx, name).
func (f ClientFunc) FetchMetadata(ctx context.Context, name string) (*Metadata, error) {
	return f(ctx, name)
}
