package docs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/tapcommand-web/internal/backend"
	"github.com/keithlinneman/tapcommand-web/internal/query"
)

type fakeAPI struct {
	mu        sync.Mutex
	listCalls int
	paths     []string
	listErr   error
}

func (f *fakeAPI) ListFiles(context.Context) ([]backend.DocFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []backend.DocFile{{Path: "README.md", Title: "Readme", Category: "General"}}, nil
}

func (f *fakeAPI) GetContent(_ context.Context, path string) (*backend.DocContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return &backend.DocContent{Path: path, Content: "# " + path}, nil
}

func (f *fakeAPI) calls() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, append([]string(nil), f.paths...)
}

func newQueries(t *testing.T, api *fakeAPI) *Queries {
	t.Helper()
	c := query.New(query.Config{StaleTime: time.Hour, Retry: -1})
	t.Cleanup(c.Close)
	return &Queries{Client: c, API: api}
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestContentKey(t *testing.T) {
	if got := ContentKey(nil).Hash(); got != `["documentation","content",null]` {
		t.Fatalf("ContentKey(nil) = %s", got)
	}
	p := "foo.md"
	if got := ContentKey(&p).Hash(); got != `["documentation","content","foo.md"]` {
		t.Fatalf("ContentKey(foo.md) = %s", got)
	}
}

func TestContent_NilPathIsDisabled(t *testing.T) {
	api := &fakeAPI{}
	q := newQueries(t, api)

	opts := q.ContentOptions(nil)
	if opts.Enabled {
		t.Fatal("content query with nil path must be disabled")
	}
	if opts.Key[2] != (*string)(nil) {
		t.Fatalf("key = %v, want nil third element", opts.Key)
	}

	r := q.UseContent(nil)
	if r.Status != query.StatusIdle || r.IsLoading {
		t.Fatalf("UseContent(nil) = %+v", r)
	}
	r = q.FetchContent(ctxWithTimeout(t), nil)
	if r.Status != query.StatusIdle {
		t.Fatalf("FetchContent(nil) = %+v", r)
	}

	time.Sleep(10 * time.Millisecond)
	if _, paths := api.calls(); len(paths) != 0 {
		t.Fatalf("GetContent called with %v", paths)
	}
	if q.Client.Len() != 0 {
		t.Fatalf("disabled query created %d cache entries", q.Client.Len())
	}
}

func TestContent_FetchesOnceWithPath(t *testing.T) {
	api := &fakeAPI{}
	q := newQueries(t, api)
	p := "foo.md"

	opts := q.ContentOptions(&p)
	if !opts.Enabled || opts.Key.Hash() != `["documentation","content","foo.md"]` {
		t.Fatalf("opts = enabled:%v key:%s", opts.Enabled, opts.Key)
	}

	r := q.FetchContent(ctxWithTimeout(t), &p)
	if r.Err != nil || r.Status != query.StatusSuccess {
		t.Fatalf("FetchContent = %+v", r)
	}
	if r.Data.Content != "# foo.md" {
		t.Fatalf("content = %q", r.Data.Content)
	}
	// fresh data is served from cache
	r = q.UseContent(&p)
	if r.Data == nil || r.Data.Path != "foo.md" {
		t.Fatalf("UseContent = %+v", r)
	}

	if _, paths := api.calls(); len(paths) != 1 || paths[0] != "foo.md" {
		t.Fatalf("GetContent calls = %v, want [foo.md]", paths)
	}
}

func TestContent_PathCopiedAtDeclaration(t *testing.T) {
	api := &fakeAPI{}
	q := newQueries(t, api)
	p := "a.md"
	opts := q.ContentOptions(&p)
	p = "b.md"

	if _, err := opts.Fn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, paths := api.calls(); paths[0] != "a.md" {
		t.Fatalf("fetched %v, want a.md", paths)
	}
}

func TestFiles_KeyIsFixed(t *testing.T) {
	q1 := newQueries(t, &fakeAPI{})
	q2 := newQueries(t, &fakeAPI{})
	if q1.FilesOptions().Key.Hash() != q2.FilesOptions().Key.Hash() {
		t.Fatal("files key must not vary")
	}
	if !q1.FilesOptions().Enabled {
		t.Fatal("files query is always enabled")
	}
}

func TestFiles_ConcurrentUsesShareFetch(t *testing.T) {
	api := &fakeAPI{}
	q := newQueries(t, api)
	ctx := ctxWithTimeout(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := q.FetchFiles(ctx); r.Err != nil || len(r.Data) != 1 {
				t.Errorf("FetchFiles = %+v", r)
			}
		}()
	}
	wg.Wait()

	if n, _ := api.calls(); n != 1 {
		t.Fatalf("ListFiles called %d times, want 1", n)
	}
}

func TestFiles_ErrorSurfacesOnResult(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("backend down")}
	q := newQueries(t, api)

	r := q.FetchFiles(ctxWithTimeout(t))
	if r.Status != query.StatusError || r.Err == nil || r.Data != nil {
		t.Fatalf("FetchFiles = %+v", r)
	}
}

func TestRefresh_RefetchesDocumentationQueries(t *testing.T) {
	api := &fakeAPI{}
	q := newQueries(t, api)
	ctx := ctxWithTimeout(t)
	p := "foo.md"

	q.FetchFiles(ctx)
	q.FetchContent(ctx, &p)
	if n := q.Refresh(ctx); n != 2 {
		t.Fatalf("Refresh = %d, want 2", n)
	}

	if r := q.UseFiles(); r.HasData() {
		t.Fatalf("invalidated data must not be served: %+v", r)
	}
	q.FetchFiles(ctx)
	if n, _ := api.calls(); n != 2 {
		t.Fatalf("ListFiles called %d times, want 2", n)
	}
}
