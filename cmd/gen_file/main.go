// gen_file writes sample files into a file server root for exercising
// chunked Load.
//
// Usage:
//
//	go run ./cmd/gen_file [-root dir] [-text] <size> [name]
//
// Size accepts suffixes: B, KB, MB, GB (e.g., "250KB", "1MB", "65536").
// Binary files hold random bytes and must be loaded with the BINARY
// encoding. Text files mix one, two and three byte runes so chunk
// boundaries regularly fall inside a rune.
package main

import (
	"bufio"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danmuck/dps_filemanager/cmd/internal/logcfg"
	logs "github.com/danmuck/smplog"
)

const DefaultRoot = "local/files"

func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %d", n)
	}
	return n * multiplier, nil
}

func sizeLabel(size int64) string {
	switch {
	case size > 0 && size%(1<<30) == 0:
		return fmt.Sprintf("%dGB", size>>30)
	case size > 0 && size%(1<<20) == 0:
		return fmt.Sprintf("%dMB", size>>20)
	case size > 0 && size%(1<<10) == 0:
		return fmt.Sprintf("%dKB", size>>10)
	default:
		return fmt.Sprintf("%dB", size)
	}
}

var textRunes = []string{"a", "b", " ", "é", "ß", "€", "→", "\n"}

// writeText writes exactly size bytes of valid UTF-8.
func writeText(w io.Writer, size int64) error {
	bw := bufio.NewWriter(w)
	var pick [1]byte
	for written := int64(0); written < size; {
		if _, err := rand.Read(pick[:]); err != nil {
			return err
		}
		r := textRunes[int(pick[0])%len(textRunes)]
		if int64(len(r)) > size-written {
			r = "a"
		}
		n, err := bw.WriteString(r)
		if err != nil {
			return err
		}
		written += int64(n)
	}
	return bw.Flush()
}

func writeRandom(w io.Writer, size int64) error {
	_, err := io.CopyN(w, rand.Reader, size)
	return err
}

func generate(path string, size int64, text bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if text {
		err = writeText(f, size)
	} else {
		err = writeRandom(f, size)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func main() {
	logcfg.Setup()

	root := flag.String("root", DefaultRoot, "file server root")
	text := flag.Bool("text", false, "write UTF-8 text instead of random bytes")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: gen_file [-root dir] [-text] <size> [name]\n")
		fmt.Fprintf(os.Stderr, "  size: number with optional suffix (B, KB, MB, GB)\n")
		os.Exit(1)
	}
	size, err := parseSize(flag.Arg(0))
	if err != nil {
		logs.Fatalf(err, "bad size")
	}

	name := flag.Arg(1)
	if name == "" {
		ext := "bin"
		if *text {
			ext = "txt"
		}
		name = fmt.Sprintf("samples/sample_%s.%s", sizeLabel(size), ext)
	}
	path := filepath.Join(*root, filepath.FromSlash(name))

	if info, err := os.Stat(path); err == nil && info.Size() == size {
		logs.Infof("reusing %s (%d bytes)", path, size)
		return
	}
	if err := generate(path, size, *text); err != nil {
		logs.Fatalf(err, "failed to generate %s", path)
	}
	logs.Infof("generated %s (%d bytes), load it as /%s", path, size, filepath.ToSlash(name))
}
