// Package docs renders the AsciiDoc protocol and API documentation served
// by the sponsor API.
package docs

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	"github.com/pkg/errors"
)

//go:embed content/*.adoc
var content embed.FS

// ErrNotFound is returned for a document that does not exist.
var ErrNotFound = errors.New("document not found")

// Embedded returns the documents compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(content, "content")
	if err != nil {
		panic(err)
	}
	return sub
}

type Service struct {
	fsys  fs.FS
	mu    sync.RWMutex
	cache map[string]string // name -> rendered HTML
}

func NewService(fsys fs.FS) *Service {
	return &Service{fsys: fsys, cache: make(map[string]string)}
}

// Render returns the HTML body of the named document. name is a bare file
// name; ".adoc" may be omitted.
func (s *Service) Render(ctx context.Context, name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	html, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return html, nil
	}

	data, err := fs.ReadFile(s.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errors.Wrap(ErrNotFound, name)
	} else if err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var out bytes.Buffer
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false),
		configuration.WithAttribute("toc", "left"),
	)
	if _, err := libasciidoc.Convert(bytes.NewReader(data), &out, config); err != nil {
		return "", errors.Wrapf(err, "convert %s", name)
	}

	html = out.String()
	s.mu.Lock()
	s.cache[name] = html
	s.mu.Unlock()
	return html, nil
}

// List returns the available document names, sorted.
func (s *Service) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "list docs")
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".adoc") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func cleanName(name string) (string, error) {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.Wrapf(ErrNotFound, "invalid document name %q", name)
	}
	if !strings.HasSuffix(name, ".adoc") {
		name += ".adoc"
	}
	return name, nil
}
