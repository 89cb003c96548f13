// Package docs declares the documentation queries: the file list and the
// content of a single file. Caching, retries and staleness are left to the
// query client's configuration.
package docs

import (
	"context"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/log"
	"github.com/keithlinneman/tapcommand-web/internal/query"
)

// FilesAPI is the subset of *backend.Client the queries call.
type FilesAPI interface {
	ListFiles(ctx context.Context) ([]backend.DocFile, error)
	GetContent(ctx context.Context, path string) (*backend.DocContent, error)
}

const keyRoot = "documentation"

// FilesKey does not depend on any input.
var FilesKey = query.Key{keyRoot, "files"}

// ContentKey keys the content query on path; a nil path encodes as null.
func ContentKey(path *string) query.Key {
	return query.Key{keyRoot, "content", path}
}

type Queries struct {
	Client *query.Client
	API    FilesAPI
}

func (q *Queries) FilesOptions() query.Options[[]backend.DocFile] {
	return query.Options[[]backend.DocFile]{
		Key:     FilesKey,
		Enabled: true,
		Fn:      q.API.ListFiles,
	}
}

// ContentOptions is disabled when path is nil, so no request is made and no
// cache entry is created.
func (q *Queries) ContentOptions(path *string) query.Options[*backend.DocContent] {
	opts := query.Options[*backend.DocContent]{
		Key:     ContentKey(path),
		Enabled: path != nil,
	}
	if path != nil {
		p := *path
		opts.Fn = func(ctx context.Context) (*backend.DocContent, error) {
			return q.API.GetContent(ctx, p)
		}
	}
	return opts
}

func (q *Queries) UseFiles() query.Result[[]backend.DocFile] {
	return query.Use(q.Client, q.FilesOptions())
}

func (q *Queries) UseContent(path *string) query.Result[*backend.DocContent] {
	return query.Use(q.Client, q.ContentOptions(path))
}

// FetchFiles waits for the list when nothing is cached yet.
func (q *Queries) FetchFiles(ctx context.Context) query.Result[[]backend.DocFile] {
	return query.Fetch(ctx, q.Client, q.FilesOptions())
}

func (q *Queries) FetchContent(ctx context.Context, path *string) query.Result[*backend.DocContent] {
	return query.Fetch(ctx, q.Client, q.ContentOptions(path))
}

// Refresh invalidates every documentation query and reports how many cached
// entries were affected.
func (q *Queries) Refresh(ctx context.Context) int {
	n := q.Client.Invalidate(query.Key{keyRoot})
	if n > 0 {
		log.FromContext(ctx).Info(ctx, "documentation queries invalidated", "entries", n)
	}
	return n
}
