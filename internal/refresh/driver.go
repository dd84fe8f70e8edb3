// Package refresh drives the external spreadsheet application through a
// narrow capability interface: one fresh application per workbook, every
// data connection refreshed, the document saved, the application closed.
package refresh

import (
	"context"
	"errors"
)

var (
	// ErrDriverUnavailable means the automation capability cannot be used
	// on this host at all.
	ErrDriverUnavailable = errors.New("refresh driver unavailable")
	// ErrRefreshTimeout means connections were still refreshing when the
	// configured timeout expired.
	ErrRefreshTimeout = errors.New("refresh timed out")
)

// Driver is the entry point to the automation capability.
type Driver interface {
	// Available reports whether the capability can be used.
	Available() error
	// Open starts a new application instance.
	Open(ctx context.Context, visible bool) (Application, error)
}

// Application is one running instance of the spreadsheet application.
type Application interface {
	OpenDocument(ctx context.Context, path string) (Document, error)
	// Close closes any open document without saving and shuts the
	// instance down. It is called exactly once, whatever happened before.
	Close() error
}

// Document is an open workbook.
type Document interface {
	Connections(ctx context.Context) ([]Connection, error)
	Save(ctx context.Context) error
}

// Connection is a data query embedded in a document.
type Connection interface {
	Name() string
	Refresh(ctx context.Context) error
	Refreshing(ctx context.Context) (bool, error)
}
