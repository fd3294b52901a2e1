// Package picker resolves user selected paths, glob patterns and URLs into
// in-memory files ready to be submitted as a batch.
package picker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/melbahja/got"
	"github.com/storefront-io/go-assetkit/internal"
	"github.com/storefront-io/go-assetkit/media"
)

const fileScheme = "file://"

// Downloader fetches a remote file to a local path.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

type gotDownloader struct {
	client *http.Client
}

func (d gotDownloader) Download(ctx context.Context, url, dest string) error {
	downloader := got.New()
	downloader.Client = d.client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}

// Picker turns sources into files. A source is a local path, a file:// URL,
// a doublestar glob pattern (such as `photos/**/*.jpg`) or an http(s) URL.
type Picker struct {
	logger       log.Logger
	pathModifier pathutil.PathModifier
	os           internal.OsProxy
	downloader   Downloader
}

// New ...
func New(logger log.Logger) *Picker {
	return &Picker{
		logger:       logger,
		pathModifier: pathutil.NewPathModifier(),
		os:           internal.RealOS{},
		downloader:   gotDownloader{client: retryhttp.NewClient(logger).StandardClient()},
	}
}

// WithOS replaces the file system access of the picker.
func (p *Picker) WithOS(osProxy internal.OsProxy) *Picker {
	p.os = osProxy
	return p
}

// WithDownloader replaces the downloader used for remote sources.
func (p *Picker) WithDownloader(downloader Downloader) *Picker {
	p.downloader = downloader
	return p
}

// Pick reads every source in order. Patterns without a match are skipped
// with a warning; a missing plain path is an error.
func (p *Picker) Pick(ctx context.Context, sources ...string) ([]*media.File, error) {
	var files []*media.File
	var tmpDir string
	defer func() {
		if tmpDir != "" {
			if err := p.os.RemoveAll(tmpDir); err != nil {
				p.logger.Warnf("Failed to remove %s: %s", tmpDir, err)
			}
		}
	}()

	for _, source := range sources {
		if isRemote(source) {
			if tmpDir == "" {
				dir, err := p.os.MkdirTemp("", "assetkit-picker")
				if err != nil {
					return nil, fmt.Errorf("create temp dir: %w", err)
				}
				tmpDir = dir
			}

			file, err := p.download(ctx, source, tmpDir, len(files))
			if err != nil {
				return nil, err
			}
			files = append(files, file)
			continue
		}

		paths, err := p.evaluatePath(source)
		if err != nil {
			return nil, err
		}
		for _, pth := range paths {
			file, err := p.read(pth, filepath.Base(pth))
			if err != nil {
				return nil, err
			}
			files = append(files, file)
		}
	}

	return files, nil
}

func (p *Picker) evaluatePath(source string) ([]string, error) {
	source = strings.TrimPrefix(source, fileScheme)

	if !hasMeta(source) {
		absPath, err := p.pathModifier.AbsPath(source)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", source, err)
		}
		info, err := p.os.Stat(absPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s does not exist", source)
		}
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", absPath, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory, use a pattern such as %s", source, path.Join(filepath.ToSlash(source), "*"))
		}
		return []string{absPath}, nil
	}

	base, pattern := doublestar.SplitPattern(filepath.ToSlash(source))
	absBase, err := p.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", base, err)
	}

	matches, err := doublestar.Glob(p.os.DirFS(absBase), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", source, err)
	}
	if len(matches) == 0 {
		p.logger.Warnf("No match for pattern: %s", source)
		return nil, nil
	}

	var paths []string
	for _, match := range matches {
		pth := filepath.Join(absBase, filepath.FromSlash(match))
		info, err := p.os.Stat(pth)
		if err != nil {
			p.logger.Warnf("Failed to check path %s, error: %s", pth, err)
			continue
		}
		if info.IsDir() {
			continue
		}
		paths = append(paths, pth)
	}
	return paths, nil
}

func (p *Picker) download(ctx context.Context, source, tmpDir string, index int) (*media.File, error) {
	name, err := fileNameFromURL(source)
	if err != nil {
		return nil, fmt.Errorf("failed to extract filename from URL %s: %w", source, err)
	}

	dest := filepath.Join(tmpDir, fmt.Sprintf("%d-%s", index, name))
	p.logger.Debugf("Downloading %s", source)
	if err := p.downloader.Download(ctx, source, dest); err != nil {
		return nil, fmt.Errorf("failed to download file from %s: %w", source, err)
	}

	return p.read(dest, name)
}

func (p *Picker) read(pth, name string) (*media.File, error) {
	data, err := p.os.ReadFile(pth)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pth, err)
	}

	contentType := mimetype.Detect(data).String()
	p.logger.Debugf("Picked %s (%s, %s)", name, contentType, media.HumanSize(int64(len(data))))

	file := media.NewFile(name, contentType, data)
	return &file, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func hasMeta(source string) bool {
	return strings.ContainsAny(source, "*?[{")
}

func fileNameFromURL(source string) (string, error) {
	parsedURL, err := url.Parse(source)
	if err != nil {
		return "", err
	}

	name := path.Base(parsedURL.Path)
	if name == "." || name == "/" {
		return "", fmt.Errorf("URL has no file name")
	}
	return name, nil
}
