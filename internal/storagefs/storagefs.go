// Package storagefs abstracts the four MCU storage backends (internal
// flash log-structured, internal flash FAT, SD-over-native, SD-over-SPI)
// behind one file-handle contract (spec §4.2). The backend drivers
// themselves are platform collaborators out of this module's scope; this
// package models the facade's contract with a host-directory stand-in so
// the core can be exercised identically on device and on a host OS.
package storagefs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Kind selects a storage backend.
type Kind int

const (
	FlashLog Kind = iota
	FlashFAT
	SDNative
	SDSPI
)

func (k Kind) String() string {
	switch k {
	case FlashLog:
		return "flash-log"
	case FlashFAT:
		return "flash-fat"
	case SDNative:
		return "sd-native"
	case SDSPI:
		return "sd-spi"
	default:
		return "unknown"
	}
}

// Quota is the storage-class quota profile of spec §4.2, enforced by
// callers, not by this facade.
type Quota struct {
	MaxDatasetBytes int64
	MaxLogBytes     int64
}

var quotas = map[Kind]Quota{
	FlashLog: {MaxDatasetBytes: 512 << 10, MaxLogBytes: 64 << 10},
	FlashFAT: {MaxDatasetBytes: 512 << 10, MaxLogBytes: 64 << 10},
	SDNative: {MaxDatasetBytes: 50 << 20, MaxLogBytes: 10 << 20},
	SDSPI:    {MaxDatasetBytes: 50 << 20, MaxLogBytes: 10 << 20},
}

// QuotaFor returns the storage-class quota for kind.
func QuotaFor(k Kind) Quota { return quotas[k] }

// File is the uniform handle spec §4.2 requires.
type File interface {
	io.ReadWriteCloser
	io.Seeker
	Tell() (int64, error)
	Size() (int64, error)
	Flush() error
}

// FileSystem is the uniform facade over one backend.
type FileSystem interface {
	Kind() Kind
	Open(path string, flag int, perm os.FileMode) (File, error)
	Exists(path string) bool
	Remove(path string) error
	Rename(oldpath, newpath string) error
	Mkdir(path string) error
	Rmdir(path string) error
}

// Substitution reports that Mount fell back to a different backend than
// requested.
type Substitution struct {
	Requested Kind
	Used      Kind
	Reason    string
}

// hostFS is the host-directory stand-in backing all four Kinds; only the
// reported Kind (and the profile QuotaFor returns for it) differs between
// them, and hostFS enforces no quota itself, matching how the
// facade is specified (uniform behaviour over distinct backends).
type hostFS struct {
	kind Kind
	root string
}

// New constructs a FileSystem of the given kind rooted at root (root plays
// the role of "/" for this backend). root is created if missing.
func New(kind Kind, root string) (FileSystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "storagefs: mount %s at %s", kind, root)
	}
	return &hostFS{kind: kind, root: root}, nil
}

// Mount initialises the requested backend, falling back to FlashLog (the
// default backend) on mount failure of any non-default backend, and
// reporting the substitution (spec §4.2).
func Mount(kind Kind, root string) (FileSystem, *Substitution, error) {
	fs, err := New(kind, root)
	if err == nil {
		return fs, nil, nil
	}
	if kind == FlashLog {
		return nil, nil, errors.Wrap(err, "storagefs: default backend mount failed")
	}
	fallback, ferr := New(FlashLog, root)
	if ferr != nil {
		return nil, nil, errors.Wrap(ferr, "storagefs: fallback to flash-log also failed")
	}
	return fallback, &Substitution{Requested: kind, Used: FlashLog, Reason: err.Error()}, nil
}

func (h *hostFS) Kind() Kind { return h.kind }

func (h *hostFS) resolve(path string) string {
	return filepath.Join(h.root, filepath.Clean("/"+path))
}

// Open opens path, auto-creating parent directories when the flag
// requests write access (spec §4.2: "directories are auto-created on
// write-mode open").
func (h *hostFS) Open(path string, flag int, perm os.FileMode) (File, error) {
	full := h.resolve(path)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, errors.Wrapf(err, "storagefs: mkdir parent of %s", path)
		}
	}
	f, err := os.OpenFile(full, flag, perm)
	if err != nil {
		return nil, errors.Wrapf(err, "storagefs: open %s", path)
	}
	return &hostFile{f: f}, nil
}

func (h *hostFS) Exists(path string) bool {
	_, err := os.Stat(h.resolve(path))
	return err == nil
}

func (h *hostFS) Remove(path string) error {
	if err := os.Remove(h.resolve(path)); err != nil {
		return errors.Wrapf(err, "storagefs: remove %s", path)
	}
	return nil
}

func (h *hostFS) Rename(oldpath, newpath string) error {
	if err := os.Rename(h.resolve(oldpath), h.resolve(newpath)); err != nil {
		return errors.Wrapf(err, "storagefs: rename %s -> %s", oldpath, newpath)
	}
	return nil
}

func (h *hostFS) Mkdir(path string) error {
	if err := os.MkdirAll(h.resolve(path), 0o755); err != nil {
		return errors.Wrapf(err, "storagefs: mkdir %s", path)
	}
	return nil
}

func (h *hostFS) Rmdir(path string) error {
	if err := os.Remove(h.resolve(path)); err != nil {
		return errors.Wrapf(err, "storagefs: rmdir %s", path)
	}
	return nil
}

type hostFile struct {
	f *os.File
}

func (h *hostFile) Read(p []byte) (int, error)  { return h.f.Read(p) }
func (h *hostFile) Write(p []byte) (int, error) { return h.f.Write(p) }
func (h *hostFile) Close() error                { return h.f.Close() }

func (h *hostFile) Seek(offset int64, whence int) (int64, error) {
	return h.f.Seek(offset, whence)
}

func (h *hostFile) Tell() (int64, error) {
	return h.f.Seek(0, io.SeekCurrent)
}

func (h *hostFile) Size() (int64, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "storagefs: stat")
	}
	return fi.Size(), nil
}

func (h *hostFile) Flush() error {
	return h.f.Sync()
}
