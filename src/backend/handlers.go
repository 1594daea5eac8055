package backend

import (
	"encoding/base64"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
)

const (
	FlagCut    = "CUT"
	FlagAppend = "APPEND"
)

func hasFlag(flags, flag string) bool {
	for _, f := range strings.FieldsFunc(flags, func(r rune) bool { return r == ',' || r == '|' || r == ' ' }) {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

func (s *Server) name(t *transport.Telegram, key string) (string, error) {
	return localName(t.Params.String(key))
}

//GETTERS

func (s *Server) browse(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if !isDir(s.root, name) {
		if exists(s.root, name) {
			return nil, failf(CodeNotDir, "%s is not a folder", clientPath(name))
		}
		return nil, failf(CodeNotFound, "%s does not exist", clientPath(name))
	}
	entries, err := fs.ReadDir(s.root.FS(), name)
	if err != nil {
		return nil, err
	}

	list := make([]any, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		list = append(list, map[string]any{
			"Name":     e.Name(),
			"Size":     info.Size(),
			"IsDir":    e.IsDir(),
			"Modified": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return list, nil
}

func (s *Server) load(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	limit, ok := t.Params.Int(transport.ParamMaxSize)
	if !ok || limit <= 0 || limit > s.cfg.MaxChunk {
		limit = s.cfg.MaxChunk
	}
	offset, _ := t.Params.Int(transport.ParamOffset)
	if offset < 0 {
		return nil, failf(CodeInvalid, "negative offset %d", offset)
	}

	buf, size, err := readChunk(s.root, name, offset, limit)
	if err != nil {
		return nil, err
	}
	binary := strings.EqualFold(t.Params.String(transport.ParamEncoding), filemanager.EncodingBinary)
	if !binary {
		if buf, err = textChunk(buf, offset+int64(len(buf)) >= size); err != nil {
			return nil, err
		}
	}

	content := string(buf)
	if binary {
		content = base64.StdEncoding.EncodeToString(buf)
	}
	s.metrics.BytesServed(t.Operation, len(buf))
	return map[string]any{
		transport.FieldContent:   content,
		transport.FieldEOF:       offset+int64(len(buf)) >= size,
		transport.FieldBytesRead: int64(len(buf)),
	}, nil
}

func (s *Server) restriction(t *transport.Telegram) (any, error) {
	component := t.Params.String(transport.ParamComponent)
	r := s.cfg.Restrictions[component]
	extensions := r.Extensions
	if extensions == nil {
		extensions = []string{}
	}
	return map[string]any{
		transport.ParamComponent: component,
		"ReadOnly":               r.ReadOnly,
		"MaxFileSize":            r.MaxFileSize,
		"Extensions":             extensions,
	}, nil
}

func (s *Server) errorDetails(t *transport.Telegram) (any, error) {
	records := s.errors.snapshot()
	list := make([]any, 0, len(records))
	for _, rec := range records {
		list = append(list, map[string]any{
			"Time":      rec.at.UTC().Format(time.RFC3339Nano),
			"Operation": string(rec.operation),
			"Consumer":  rec.consumer,
			"Code":      rec.code,
			"Text":      rec.text,
		})
	}
	return list, nil
}

//SETTERS

func (s *Server) save(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if name == "." {
		return nil, failf(CodeIsDir, "cannot save over the root folder")
	}
	if err := s.allowSave(name, len(t.Payload)); err != nil {
		return nil, err
	}
	if err := s.locks.check(t.Consumer(), name); err != nil {
		return nil, err
	}

	mode := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if hasFlag(t.Params.String(transport.ParamFlags), FlagAppend) {
		mode = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := s.root.OpenFile(name, mode, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := f.Write(t.Payload)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	s.metrics.BytesServed(t.Operation, n)
	s.notify(filemanager.Save, name)
	return map[string]any{transport.ParamPath: clientPath(name), "Size": int64(n)}, nil
}

func (s *Server) allowSave(name string, size int) error {
	r, ok := s.cfg.Restrictions[FilesComponent]
	if !ok {
		return nil
	}
	if r.ReadOnly {
		return failf(CodeReadOnly, "%s is read only", FilesComponent)
	}
	if r.MaxFileSize > 0 && int64(size) > r.MaxFileSize {
		return failf(CodeTooLarge, "%d bytes exceeds the %d byte limit", size, r.MaxFileSize)
	}
	if len(r.Extensions) == 0 {
		return nil
	}
	ext := path.Ext(name)
	for _, allowed := range r.Extensions {
		if strings.EqualFold(ext, allowed) {
			return nil
		}
	}
	return failf(CodeDenied, "extension %q is not allowed", ext)
}

func (s *Server) delete(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if name == "." {
		return nil, failf(CodeInvalid, "cannot delete the root folder")
	}
	if !exists(s.root, name) {
		return nil, failf(CodeNotFound, "%s does not exist", clientPath(name))
	}
	if err := s.locks.check(t.Consumer(), name); err != nil {
		return nil, err
	}
	if err := s.root.RemoveAll(name); err != nil {
		return nil, err
	}
	s.locks.drop(name)
	s.notify(filemanager.Delete, name)
	return map[string]any{transport.ParamPath: clientPath(name)}, nil
}

func (s *Server) rename(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	newName := t.Params.String(transport.ParamName)
	if newName == "" || newName == "." || newName == ".." || strings.ContainsAny(newName, `/\`) {
		return nil, failf(CodeInvalid, "invalid name %q", newName)
	}
	if name == "." {
		return nil, failf(CodeInvalid, "cannot rename the root folder")
	}
	if !exists(s.root, name) {
		return nil, failf(CodeNotFound, "%s does not exist", clientPath(name))
	}
	target := path.Join(path.Dir(name), newName)
	if exists(s.root, target) {
		return nil, failf(CodeExists, "%s already exists", clientPath(target))
	}
	if err := s.locks.check(t.Consumer(), name); err != nil {
		return nil, err
	}
	if err := s.root.Rename(name, target); err != nil {
		return nil, err
	}
	s.locks.drop(name)
	s.notify(filemanager.Rename, target)
	return map[string]any{transport.ParamPath: clientPath(target)}, nil
}

// copy copies Source to Dest. A Dest naming an existing folder receives
// the source under its own name. The CUT flag moves instead.
func (s *Server) copy(t *transport.Telegram) (any, error) {
	src, err := s.name(t, transport.ParamSource)
	if err != nil {
		return nil, err
	}
	dst, err := s.name(t, transport.ParamDest)
	if err != nil {
		return nil, err
	}
	if src == "." {
		return nil, failf(CodeInvalid, "cannot copy the root folder")
	}
	if !exists(s.root, src) {
		return nil, failf(CodeNotFound, "%s does not exist", clientPath(src))
	}
	if isDir(s.root, dst) {
		dst = path.Join(dst, path.Base(src))
	}
	if within(dst, src) {
		return nil, failf(CodeInvalid, "cannot copy %s into itself", clientPath(src))
	}
	if exists(s.root, dst) {
		return nil, failf(CodeExists, "%s already exists", clientPath(dst))
	}
	if err := s.locks.check(t.Consumer(), dst); err != nil {
		return nil, err
	}

	cut := hasFlag(t.Params.String(transport.ParamFlags), FlagCut)
	if cut {
		if err := s.locks.check(t.Consumer(), src); err != nil {
			return nil, err
		}
		if err := s.root.Rename(src, dst); err != nil {
			return nil, err
		}
		s.locks.drop(src)
		s.notify(filemanager.Delete, src)
	} else if err := copyTree(s.root, src, dst); err != nil {
		return nil, err
	}
	s.notify(filemanager.Copy, dst)
	return map[string]any{transport.ParamSource: clientPath(src), transport.ParamDest: clientPath(dst)}, nil
}

func (s *Server) lock(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if !exists(s.root, name) {
		return nil, failf(CodeNotFound, "%s does not exist", clientPath(name))
	}
	if err := s.locks.lock(t.Consumer(), name); err != nil {
		return nil, err
	}
	s.notify(filemanager.Lock, name)
	return map[string]any{transport.ParamPath: clientPath(name), "Owner": s.locks.owner(name)}, nil
}

func (s *Server) clearFlags(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if err := s.locks.clear(t.Consumer(), name); err != nil {
		return nil, err
	}
	s.notify(filemanager.ClearFlags, name)
	return map[string]any{transport.ParamPath: clientPath(name)}, nil
}

func (s *Server) createFolder(t *transport.Telegram) (any, error) {
	name, err := s.name(t, transport.ParamPath)
	if err != nil {
		return nil, err
	}
	if name == "." {
		return nil, failf(CodeExists, "the root folder already exists")
	}
	if err := s.locks.check(t.Consumer(), name); err != nil {
		return nil, err
	}
	if err := s.root.Mkdir(name, 0o755); err != nil {
		return nil, err
	}
	s.notify(filemanager.CreateFolder, name)
	return map[string]any{transport.ParamPath: clientPath(name)}, nil
}
