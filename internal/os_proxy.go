package internal

import (
	"io/fs"
	"os"
)

// OsProxy is the subset of the os package the file picker touches.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	DirFS(dir string) fs.FS
	MkdirTemp(dir, pattern string) (string, error)
	RemoveAll(path string) error
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error)         { return os.Stat(name) }              //nolint:revive
func (RealOS) ReadFile(name string) ([]byte, error)          { return os.ReadFile(name) }          //nolint:revive
func (RealOS) DirFS(dir string) fs.FS                        { return os.DirFS(dir) }              //nolint:revive
func (RealOS) MkdirTemp(dir, pattern string) (string, error) { return os.MkdirTemp(dir, pattern) } //nolint:revive
func (RealOS) RemoveAll(path string) error                   { return os.RemoveAll(path) }         //nolint:revive
