package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// localName turns a client path into a name relative to the served root.
// "/", "" and "." all name the root itself.
func localName(p string) (string, error) {
	rel := strings.Trim(p, "/")
	if rel == "" || rel == "." {
		return ".", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", failf(CodeDenied, "path %q escapes the served root", p)
	}
	return path.Clean(rel), nil
}

// clientPath is the form names take in replies and pushes.
func clientPath(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

// within reports whether name is base or below it.
func within(name, base string) bool {
	if base == "." || name == base {
		return true
	}
	return strings.HasPrefix(name, base+"/")
}

func isDir(root *os.Root, name string) bool {
	info, err := root.Stat(name)
	return err == nil && info.IsDir()
}

func exists(root *os.Root, name string) bool {
	_, err := root.Lstat(name)
	return err == nil
}

// readChunk reads up to limit bytes of name at offset. It also returns the
// file size so the caller can tell whether the chunk ends the file.
func readChunk(root *os.Root, name string, offset, limit int64) ([]byte, int64, error) {
	f, err := root.Open(name)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, failf(CodeIsDir, "%s is a folder", clientPath(name))
	}
	size := info.Size()
	n := min(limit, size-offset)
	if n <= 0 {
		return nil, size, nil
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	return buf[:read], size, nil
}

// textChunk prepares a chunk for the text encoding. A rune cut by the
// chunk boundary is left for the next chunk; anything else that is not
// UTF-8 must be read with the BINARY encoding.
func textChunk(buf []byte, last bool) ([]byte, error) {
	if !last {
		for i := 1; i <= utf8.UTFMax && i <= len(buf); i++ {
			if utf8.RuneStart(buf[len(buf)-i]) {
				if !utf8.FullRune(buf[len(buf)-i:]) {
					buf = buf[:len(buf)-i]
				}
				break
			}
		}
		if len(buf) == 0 {
			return nil, failf(CodeInvalid, "chunk too small for UTF-8 text")
		}
	}
	if !utf8.Valid(buf) {
		return nil, failf(CodeEncoding, "content is not UTF-8 text, read it with the BINARY encoding")
	}
	return buf, nil
}

func copyFile(root *os.Root, src, dst string) error {
	in, err := root.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := root.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies a file or a whole folder from src to dst.
func copyTree(root *os.Root, src, dst string) error {
	return fs.WalkDir(root.FS(), src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := dst + strings.TrimPrefix(p, src)
		if d.IsDir() {
			return root.Mkdir(target, 0o755)
		}
		return copyFile(root, p, target)
	})
}
