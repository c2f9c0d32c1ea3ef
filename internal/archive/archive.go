// Package archive reads and writes ZIP containers (jar, war, zip) as an
// ordered list of named entries.
//
// Entries that are not modified are copied with their compressed bytes and
// headers untouched. Output goes to a temporary file next to the target and
// only replaces it on Commit.
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// ClassSuffix names entries that may hold a compiled class.
const ClassSuffix = ".class"

// Entry is one named member of an archive.
type Entry struct {
	// Index is the entry's position in the archive.
	Index int
	file  *zip.File
}

// Name returns the entry name.
func (e *Entry) Name() string { return e.file.Name }

// Method returns the ZIP compression method.
func (e *Entry) Method() uint16 { return e.file.Method }

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return strings.HasSuffix(e.file.Name, "/") }

// MaybeClass reports whether the name marks the entry as a class file.
func (e *Entry) MaybeClass() bool {
	return strings.HasSuffix(e.file.Name, ClassSuffix) && !e.IsDir()
}

// ReadAll returns the uncompressed payload.
func (e *Entry) ReadAll() ([]byte, error) {
	rc, err := e.file.Open()
	if err != nil {
		return nil, weaveerr.NewArchiveIO("read", err).WithEntry(e.Name())
	}
	defer rc.Close()
	buf := bytes.NewBuffer(make([]byte, 0, e.file.UncompressedSize64))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, weaveerr.NewArchiveIO("read", err).WithEntry(e.Name())
	}
	return buf.Bytes(), nil
}

// IsClass reports whether an entry with the given name and payload is a
// class file: the name ends in .class and the payload starts with the
// class file magic.
func IsClass(name string, data []byte) bool {
	return strings.HasSuffix(name, ClassSuffix) && classfile.HasMagic(data)
}

// Reader is an open input archive.
type Reader struct {
	rc      *zip.ReadCloser
	entries []*Entry
}

// Open opens an archive for reading. Duplicate entry names are rejected.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, weaveerr.NewArchiveIO("open", err).WithEntry(path)
	}
	r := &Reader{rc: rc, entries: make([]*Entry, 0, len(rc.File))}
	seen := make(map[string]bool, len(rc.File))
	for i, f := range rc.File {
		if seen[f.Name] {
			rc.Close()
			return nil, weaveerr.NewDuplicateEntry(f.Name)
		}
		seen[f.Name] = true
		r.entries = append(r.entries, &Entry{Index: i, file: f})
	}
	return r, nil
}

// Entries returns the entries in archive order.
func (r *Reader) Entries() []*Entry { return r.entries }

// Comment returns the archive comment.
func (r *Reader) Comment() string { return r.rc.Comment }

// Close releases the underlying file.
func (r *Reader) Close() error { return r.rc.Close() }

// Writer builds an output archive in a temporary file.
type Writer struct {
	path string
	tmp  *os.File
	zw   *zip.Writer
	done bool
}

// Create starts writing an archive that will replace path on Commit. The
// output keeps the permissions of an existing file at path; a new file
// gets the usual 0666 less umask.
func Create(path string) (*Writer, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	name := filepath.Join(dir, "."+base+"."+uuid.NewString()+".tmp")
	tmp, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, weaveerr.NewArchiveIO("create", err).WithEntry(path)
	}
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		if err := tmp.Chmod(info.Mode().Perm()); err != nil {
			tmp.Close()
			os.Remove(name)
			return nil, weaveerr.NewArchiveIO("create", err).WithEntry(path)
		}
	}
	return &Writer{path: path, tmp: tmp, zw: zip.NewWriter(tmp)}, nil
}

// SetComment sets the archive comment.
func (w *Writer) SetComment(comment string) error {
	if err := w.zw.SetComment(comment); err != nil {
		return weaveerr.NewArchiveIO("write", err)
	}
	return nil
}

// Copy writes e unchanged, without recompressing it.
func (w *Writer) Copy(e *Entry) error {
	if err := w.zw.Copy(e.file); err != nil {
		return weaveerr.NewArchiveIO("write", err).WithEntry(e.Name())
	}
	return nil
}

// Replace writes data under e's name and header metadata. Stored entries
// stay stored with sizes and CRC in the local header, since some readers
// cannot handle stored entries followed by a data descriptor.
func (w *Writer) Replace(e *Entry, data []byte) error {
	h := e.file.FileHeader
	h.CRC32 = 0
	h.CompressedSize64 = 0
	h.UncompressedSize64 = 0
	h.Flags &^= 0x8

	var (
		fw  io.Writer
		err error
	)
	if e.Method() == zip.Store {
		h.CRC32 = crc32.ChecksumIEEE(data)
		h.CompressedSize64 = uint64(len(data))
		h.UncompressedSize64 = uint64(len(data))
		fw, err = w.zw.CreateRaw(&h)
	} else {
		// CreateHeader appends its own timestamp field for h.Modified.
		h.Extra = stripExtra(h.Extra, extTimeExtraID)
		fw, err = w.zw.CreateHeader(&h)
	}
	if err == nil {
		_, err = fw.Write(data)
	}
	if err != nil {
		return weaveerr.NewArchiveIO("write", err).WithEntry(e.Name())
	}
	return nil
}

const extTimeExtraID = 0x5455

// stripExtra removes every extra field with the given id. Malformed extra
// data is returned unchanged.
func stripExtra(extra []byte, id uint16) []byte {
	out := make([]byte, 0, len(extra))
	for rest := extra; len(rest) > 0; {
		if len(rest) < 4 {
			return extra
		}
		size := 4 + int(binary.LittleEndian.Uint16(rest[2:]))
		if size > len(rest) {
			return extra
		}
		if binary.LittleEndian.Uint16(rest) != id {
			out = append(out, rest[:size]...)
		}
		rest = rest[size:]
	}
	return out
}

// Commit finishes the archive and moves it into place.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("archive: writer for %s already closed", w.path)
	}
	w.done = true
	err := w.zw.Close()
	if err == nil {
		err = w.tmp.Sync()
	}
	if cerr := w.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmp.Name(), w.path)
	}
	if err != nil {
		os.Remove(w.tmp.Name())
		return weaveerr.NewArchiveIO("commit", err).WithEntry(w.path)
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.zw.Close()
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}
