package archive

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weaver/internal/weaveerr"
)

type fixture struct {
	name   string
	method uint16
	data   []byte
}

var classBytes = []byte{0xca, 0xfe, 0xba, 0xbe, 0, 0, 0, 52}

func writeZip(t *testing.T, path string, entries ...fixture) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.name,
			Method:   e.method,
			Modified: time.Date(2020, 1, 2, 3, 4, 6, 0, time.UTC),
			Comment:  "c:" + e.name,
		})
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.SetComment("archive comment"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func sample(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "in.jar")
	writeZip(t, path,
		fixture{"META-INF/MANIFEST.MF", zip.Deflate, []byte("Manifest-Version: 1.0\n")},
		fixture{"com/", zip.Store, nil},
		fixture{"com/acme/A.class", zip.Store, classBytes},
		fixture{"com/acme/B.class", zip.Deflate, classBytes},
		fixture{"notes.class", zip.Deflate, []byte("plain text")},
	)
	return path
}

func TestOpenListsEntriesInOrder(t *testing.T) {
	r, err := Open(sample(t))
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for i, e := range r.Entries() {
		assert.Equal(t, i, e.Index)
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"META-INF/MANIFEST.MF", "com/", "com/acme/A.class", "com/acme/B.class", "notes.class"}, names)
	assert.Equal(t, "archive comment", r.Comment())

	entries := r.Entries()
	assert.True(t, entries[1].IsDir())
	assert.False(t, entries[1].MaybeClass())
	assert.True(t, entries[2].MaybeClass())
	assert.Equal(t, zip.Store, entries[2].Method())

	data, err := entries[3].ReadAll()
	require.NoError(t, err)
	assert.True(t, IsClass(entries[3].Name(), data))

	data, err = entries[4].ReadAll()
	require.NoError(t, err)
	assert.False(t, IsClass(entries[4].Name(), data), "a .class name without the magic is opaque")
	assert.False(t, IsClass("A.txt", classBytes))
}

func TestOpenRejectsDuplicateNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.zip")
	writeZip(t, path,
		fixture{"a.txt", zip.Deflate, []byte("one")},
		fixture{"a.txt", zip.Deflate, []byte("two")},
	)
	_, err := Open(path)
	require.ErrorIs(t, err, weaveerr.ErrDuplicateEntry)
	var werr *weaveerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "a.txt", werr.Entry)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.jar"))
	assert.ErrorIs(t, err, weaveerr.ErrArchiveIO)
}

func TestWriterCopiesAndReplaces(t *testing.T) {
	r, err := Open(sample(t))
	require.NoError(t, err)
	defer r.Close()

	out := filepath.Join(t.TempDir(), "out.jar")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	w, err := Create(out)
	require.NoError(t, err)
	require.NoError(t, w.SetComment(r.Comment()))
	entries := r.Entries()
	replaced := append([]byte(nil), classBytes...)
	replaced = append(replaced, 1, 2, 3)
	for _, e := range entries {
		switch e.Name() {
		case "com/acme/A.class", "com/acme/B.class":
			require.NoError(t, w.Replace(e, replaced))
		default:
			require.NoError(t, w.Copy(e))
		}
	}
	require.NoError(t, w.Commit())
	w.Abort()

	got, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer got.Close()
	require.Len(t, got.File, len(entries))
	assert.Equal(t, "archive comment", got.Comment)

	for i, f := range got.File {
		orig := entries[i].file
		assert.Equal(t, orig.Name, f.Name)
		assert.Equal(t, orig.Method, f.Method)
		assert.Equal(t, orig.Comment, f.Comment)
		assert.True(t, orig.Modified.Equal(f.Modified), f.Name)
	}
	manifest := got.File[0]
	assert.Equal(t, entries[0].file.CRC32, manifest.CRC32)
	assert.Equal(t, entries[0].file.CompressedSize64, manifest.CompressedSize64)

	stored := got.File[2]
	assert.Zero(t, stored.Flags&0x8, "stored entries carry sizes in the local header")
	for _, f := range got.File[2:4] {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, replaced, data, f.Name)
	}

	left, err := filepath.Glob(filepath.Join(filepath.Dir(out), ".out.jar.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestWriterOutputPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	r, err := Open(sample(t))
	require.NoError(t, err)
	defer r.Close()

	// A file made with os.Create shows the mode a new output should get
	// under the current umask.
	ref := filepath.Join(t.TempDir(), "ref")
	f, err := os.Create(ref)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	refInfo, err := os.Stat(ref)
	require.NoError(t, err)

	tests := []struct {
		name     string
		existing os.FileMode
		want     os.FileMode
	}{
		{"new output", 0, refInfo.Mode().Perm()},
		{"existing 0644", 0o644, 0o644},
		{"existing 0640", 0o640, 0o640},
		{"existing 0755", 0o755, 0o755},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.jar")
			if tt.existing != 0 {
				require.NoError(t, os.WriteFile(out, []byte("old"), 0o600))
				require.NoError(t, os.Chmod(out, tt.existing))
			}

			w, err := Create(out)
			require.NoError(t, err)
			require.NoError(t, w.Copy(r.Entries()[0]))
			require.NoError(t, w.Commit())

			info, err := os.Stat(out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Mode().Perm())
		})
	}
}

func TestStripExtra(t *testing.T) {
	extra := []byte{
		0x55, 0x54, 1, 0, 0xff,
		0x01, 0xca, 2, 0, 0xaa, 0xbb,
	}
	assert.Equal(t, []byte{0x01, 0xca, 2, 0, 0xaa, 0xbb}, stripExtra(extra, extTimeExtraID))
	assert.Equal(t, []byte{1, 2, 3}, stripExtra([]byte{1, 2, 3}, extTimeExtraID))
}

func TestWriterAbortLeavesNothing(t *testing.T) {
	r, err := Open(sample(t))
	require.NoError(t, err)
	defer r.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "out.jar")
	w, err := Create(out)
	require.NoError(t, err)
	require.NoError(t, w.Copy(r.Entries()[0]))
	w.Abort()
	w.Abort()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Error(t, w.Commit())
}
