// Package fetch resolves a video source (remote link, storage upload
// key, or local path) to a readable local file for extraction.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxsub/subgen/internal/storage"
)

// Kind discriminates where a video comes from.
type Kind string

const (
	// KindLink is a remote URL fetched with a plain HTTP GET.
	KindLink Kind = "link"
	// KindUpload is a key in the artifact store's uploads/ area.
	KindUpload Kind = "upload"
	// KindLocal is a path already on this machine's filesystem.
	KindLocal Kind = "local"
)

// Source names one video to process.
type Source struct {
	Kind Kind
	// Ref is a URL for KindLink, a storage key for KindUpload, or a
	// filesystem path for KindLocal.
	Ref string
}

// Fetcher materializes sources into workDir.
type Fetcher struct {
	store  storage.Store
	client *http.Client
}

func New(store storage.Store) *Fetcher {
	return &Fetcher{
		store:  store,
		client: &http.Client{Timeout: 15 * time.Minute},
	}
}

// Fetch resolves src to a local video file path. The returned cleanup
// removes anything Fetch wrote and must run on every exit path; for
// KindLocal it is a no-op since the caller owns the file.
func (f *Fetcher) Fetch(ctx context.Context, src Source, workDir string) (string, func(), error) {
	noop := func() {}

	switch src.Kind {
	case KindLocal:
		if _, err := os.Stat(src.Ref); err != nil {
			return "", noop, fmt.Errorf("local source %q: %w", src.Ref, err)
		}
		return src.Ref, noop, nil

	case KindLink:
		return f.download(ctx, src.Ref, workDir)

	case KindUpload:
		return f.fromStore(ctx, src.Ref, workDir)

	default:
		return "", noop, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

func (f *Fetcher) download(ctx context.Context, link, workDir string) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", noop, fmt.Errorf("unsupported link %q", link)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", noop, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download %s: %w", link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("download %s: status %d", link, resp.StatusCode)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "video"
	}
	return f.writeLocal(resp.Body, workDir, name)
}

func (f *Fetcher) fromStore(ctx context.Context, key, workDir string) (string, func(), error) {
	noop := func() {}

	if !f.store.Exists(ctx, key) {
		return "", noop, fmt.Errorf("upload %q not found in storage", key)
	}
	rc, err := f.store.Open(ctx, key)
	if err != nil {
		return "", noop, fmt.Errorf("open upload %q: %w", key, err)
	}
	defer rc.Close()

	return f.writeLocal(rc, workDir, path.Base(key))
}

func (f *Fetcher) writeLocal(r io.Reader, workDir, name string) (string, func(), error) {
	noop := func() {}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", noop, fmt.Errorf("workdir: %w", err)
	}
	dst := filepath.Join(workDir, sanitize(name))

	out, err := os.Create(dst)
	if err != nil {
		return "", noop, fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dst)
		return "", noop, fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", noop, fmt.Errorf("close %s: %w", dst, err)
	}

	cleanup := func() { os.Remove(dst) }
	return dst, cleanup, nil
}

// sanitize strips path separators so a hostile upload name cannot
// escape workDir.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		return "video"
	}
	return name
}
