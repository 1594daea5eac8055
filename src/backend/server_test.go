package backend

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Root = t.TempDir()
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, cfg.Root
}

func request(op filemanager.Operation, consumer string, params transport.Params, payload []byte) *transport.Telegram {
	if params == nil {
		params = transport.Params{}
	}
	params[transport.ParamConsumer] = consumer
	params[transport.ParamRequestID] = consumer + "-" + string(op)
	return &transport.Telegram{Kind: transport.KindRequest, Operation: string(op), Params: params, Payload: payload}
}

func ok(t *testing.T, reply *transport.Telegram) map[string]any {
	t.Helper()
	require.Equal(t, transport.KindResponse, reply.Kind, "reply: %+v", reply.Data)
	data, isMap := reply.Data.(map[string]any)
	require.True(t, isMap, "data is %T", reply.Data)
	return data
}

func failed(t *testing.T, reply *transport.Telegram, kind transport.MessageKind, code int64) string {
	t.Helper()
	require.Equal(t, kind, reply.Kind)
	got, text, isErr := transport.ParseErrorData(reply.Data)
	require.True(t, isErr)
	assert.Equal(t, code, got, text)
	return text
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestBrowseListsEntries(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "docs/a.txt", "hello")
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs", "sub"), 0o755))

	reply := s.Respond(request(filemanager.Browse, "w1", transport.Params{transport.ParamPath: "/docs/"}, nil))
	require.Equal(t, transport.KindResponse, reply.Kind)
	list, isList := reply.Data.([]any)
	require.True(t, isList)
	require.Len(t, list, 2)

	a := list[0].(map[string]any)
	assert.Equal(t, "a.txt", a["Name"])
	assert.EqualValues(t, 5, a["Size"])
	assert.Equal(t, false, a["IsDir"])
	assert.Equal(t, true, list[1].(map[string]any)["IsDir"])

	// echoes parameters so the gateway can correlate
	assert.Equal(t, "w1-Browse", reply.RequestID())
	assert.Equal(t, "/docs/", reply.Params.String(transport.ParamPath))
}

func TestBrowseErrors(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "file.txt", "x")

	failed(t, s.Respond(request(filemanager.Browse, "w1", transport.Params{transport.ParamPath: "/nope/"}, nil)),
		transport.KindGetError, CodeNotFound)
	failed(t, s.Respond(request(filemanager.Browse, "w1", transport.Params{transport.ParamPath: "/file.txt"}, nil)),
		transport.KindGetError, CodeNotDir)
	failed(t, s.Respond(request(filemanager.Browse, "w1", transport.Params{transport.ParamPath: "/../etc"}, nil)),
		transport.KindGetError, CodeDenied)
}

func TestLoadChunksText(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "f.txt", "0123456789")

	params := transport.Params{transport.ParamPath: "/f.txt", transport.ParamMaxSize: 4, transport.ParamOffset: 0}
	data := ok(t, s.Respond(request(filemanager.Load, "w1", params, nil)))
	assert.Equal(t, "0123", data[transport.FieldContent])
	assert.Equal(t, false, data[transport.FieldEOF])
	assert.EqualValues(t, 4, data[transport.FieldBytesRead])

	params = transport.Params{transport.ParamPath: "/f.txt", transport.ParamMaxSize: 4, transport.ParamOffset: 8}
	data = ok(t, s.Respond(request(filemanager.Load, "w1", params, nil)))
	assert.Equal(t, "89", data[transport.FieldContent])
	assert.Equal(t, true, data[transport.FieldEOF])
}

func TestLoadBinaryIsBase64(t *testing.T) {
	s, root := newTestServer(t)
	raw := []byte{0x00, 0xff, 0x10, 0x80, 0x7f}
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.bin"), raw, 0o644))

	params := transport.Params{
		transport.ParamPath:     "/b.bin",
		transport.ParamEncoding: filemanager.EncodingBinary,
		transport.ParamMaxSize:  100,
	}
	data := ok(t, s.Respond(request(filemanager.Load, "w1", params, nil)))
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), data[transport.FieldContent])
	assert.Equal(t, true, data[transport.FieldEOF])

	// the same bytes are not text
	delete(params, transport.ParamEncoding)
	failed(t, s.Respond(request(filemanager.Load, "w1", params, nil)), transport.KindGetError, CodeEncoding)
}

func TestLoadKeepsRunesWhole(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "u.txt", "aé") // 'é' is two bytes

	params := transport.Params{transport.ParamPath: "/u.txt", transport.ParamMaxSize: 2}
	data := ok(t, s.Respond(request(filemanager.Load, "w1", params, nil)))
	assert.Equal(t, "a", data[transport.FieldContent])
	assert.EqualValues(t, 1, data[transport.FieldBytesRead])
	assert.Equal(t, false, data[transport.FieldEOF])
}

func TestLoadCapsChunkSize(t *testing.T) {
	s, root := newTestServer(t, func(c *Config) { c.MaxChunk = 3 })
	writeFile(t, root, "f.txt", "abcdef")

	params := transport.Params{transport.ParamPath: "/f.txt", transport.ParamMaxSize: 1000}
	data := ok(t, s.Respond(request(filemanager.Load, "w1", params, nil)))
	assert.Equal(t, "abc", data[transport.FieldContent])
}

func TestSaveDeleteRename(t *testing.T) {
	s, root := newTestServer(t)

	ok(t, s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/a.txt"}, []byte("one"))))
	ok(t, s.Respond(request(filemanager.Save, "w1",
		transport.Params{transport.ParamPath: "/a.txt", transport.ParamFlags: FlagAppend}, []byte("two"))))
	b, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(b))

	data := ok(t, s.Respond(request(filemanager.Rename, "w1",
		transport.Params{transport.ParamPath: "/a.txt", transport.ParamName: "b.txt"}, nil)))
	assert.Equal(t, "/b.txt", data[transport.ParamPath])
	assert.FileExists(t, filepath.Join(root, "b.txt"))

	failed(t, s.Respond(request(filemanager.Rename, "w1",
		transport.Params{transport.ParamPath: "/b.txt", transport.ParamName: "../x"}, nil)), transport.KindSetError, CodeInvalid)

	ok(t, s.Respond(request(filemanager.Delete, "w1", transport.Params{transport.ParamPath: "/b.txt"}, nil)))
	assert.NoFileExists(t, filepath.Join(root, "b.txt"))
	failed(t, s.Respond(request(filemanager.Delete, "w1", transport.Params{transport.ParamPath: "/b.txt"}, nil)),
		transport.KindSetError, CodeNotFound)
	failed(t, s.Respond(request(filemanager.Delete, "w1", transport.Params{transport.ParamPath: "/"}, nil)),
		transport.KindSetError, CodeInvalid)
}

func TestCreateFolderAndCopy(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "src/a.txt", "A")
	writeFile(t, root, "src/deep/b.txt", "B")

	ok(t, s.Respond(request(filemanager.CreateFolder, "w1", transport.Params{transport.ParamPath: "/dst/"}, nil)))
	failed(t, s.Respond(request(filemanager.CreateFolder, "w1", transport.Params{transport.ParamPath: "/dst/"}, nil)),
		transport.KindSetError, CodeExists)

	// copy into an existing folder keeps the source name
	data := ok(t, s.Respond(request(filemanager.Copy, "w1",
		transport.Params{transport.ParamSource: "/src", transport.ParamDest: "/dst/"}, nil)))
	assert.Equal(t, "/dst/src", data[transport.ParamDest])
	b, err := os.ReadFile(filepath.Join(root, "dst", "src", "deep", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(b))
	assert.DirExists(t, filepath.Join(root, "src"))

	failed(t, s.Respond(request(filemanager.Copy, "w1",
		transport.Params{transport.ParamSource: "/src", transport.ParamDest: "/src/deep"}, nil)),
		transport.KindSetError, CodeInvalid)

	// CUT moves
	ok(t, s.Respond(request(filemanager.Copy, "w1", transport.Params{
		transport.ParamSource: "/src/a.txt",
		transport.ParamDest:   "/moved.txt",
		transport.ParamFlags:  FlagCut,
	}, nil)))
	assert.NoFileExists(t, filepath.Join(root, "src", "a.txt"))
	assert.FileExists(t, filepath.Join(root, "moved.txt"))
}

func TestLocksGuardOtherConsumers(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "shared/f.txt", "x")

	data := ok(t, s.Respond(request(filemanager.Lock, "w1", transport.Params{transport.ParamPath: "/shared"}, nil)))
	assert.Equal(t, "w1", data["Owner"])

	failed(t, s.Respond(request(filemanager.Save, "w2", transport.Params{transport.ParamPath: "/shared/f.txt"}, []byte("y"))),
		transport.KindSetError, CodeLocked)
	failed(t, s.Respond(request(filemanager.Lock, "w2", transport.Params{transport.ParamPath: "/shared/f.txt"}, nil)),
		transport.KindSetError, CodeLocked)
	failed(t, s.Respond(request(filemanager.ClearFlags, "w2", transport.Params{transport.ParamPath: "/shared"}, nil)),
		transport.KindSetError, CodeLocked)

	// the owner may still write, and reads are never blocked
	ok(t, s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/shared/f.txt"}, []byte("z"))))
	ok(t, s.Respond(request(filemanager.Load, "w2", transport.Params{transport.ParamPath: "/shared/f.txt", transport.ParamMaxSize: 10}, nil)))

	ok(t, s.Respond(request(filemanager.ClearFlags, "w1", transport.Params{transport.ParamPath: "/shared"}, nil)))
	ok(t, s.Respond(request(filemanager.Save, "w2", transport.Params{transport.ParamPath: "/shared/f.txt"}, []byte("y"))))
}

func TestRestrictionAndSaveLimits(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) {
		c.Restrictions[FilesComponent] = Restriction{MaxFileSize: 4, Extensions: []string{".txt"}}
	})

	data := ok(t, s.Respond(request(filemanager.Restriction, "w1", transport.Params{transport.ParamComponent: FilesComponent}, nil)))
	assert.EqualValues(t, 4, data["MaxFileSize"])
	assert.Equal(t, []string{".txt"}, data["Extensions"])

	data = ok(t, s.Respond(request(filemanager.Restriction, "w1", transport.Params{transport.ParamComponent: "Other"}, nil)))
	assert.Equal(t, false, data["ReadOnly"])

	failed(t, s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/big.txt"}, []byte("12345"))),
		transport.KindSetError, CodeTooLarge)
	failed(t, s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/a.exe"}, []byte("1"))),
		transport.KindSetError, CodeDenied)
	ok(t, s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/a.txt"}, []byte("1"))))
}

func TestErrorDetailsKeepsRecentFailures(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.ErrorHistory = 2 })

	for _, p := range []string{"/one", "/two", "/three"} {
		s.Respond(request(filemanager.Delete, "w1", transport.Params{transport.ParamPath: p}, nil))
	}
	reply := s.Respond(request(filemanager.ErrorDetails, "w1", nil, nil))
	require.Equal(t, transport.KindResponse, reply.Kind)
	list := reply.Data.([]any)
	require.Len(t, list, 2)
	assert.True(t, strings.Contains(list[0].(map[string]any)["Text"].(string), "/two"))
	assert.True(t, strings.Contains(list[1].(map[string]any)["Text"].(string), "/three"))
}

func TestUnknownOperation(t *testing.T) {
	s, _ := newTestServer(t)
	reply := s.Respond(&transport.Telegram{Kind: transport.KindRequest, Operation: "Format"})
	failed(t, reply, transport.KindSetError, CodeUnsupported)
}

type recordingPeer struct {
	id   string
	mu   sync.Mutex
	sent []*transport.Telegram
}

func (p *recordingPeer) ID() string         { return p.id }
func (p *recordingPeer) RemoteAddr() string { return "test:" + p.id }
func (p *recordingPeer) Close() error       { return nil }
func (p *recordingPeer) Send(t *transport.Telegram) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, t)
	return nil
}

func (p *recordingPeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestNotifyWatchedFolderOnly(t *testing.T) {
	s, _ := newTestServer(t)
	watcher := &recordingPeer{id: "p1"}
	s.Handle(&transport.Inbound{Peer: watcher, Telegram: &transport.Telegram{
		Kind:      transport.KindSubscribe,
		Operation: filemanager.NotificationTopic,
		Params:    transport.Params{transport.ParamPath: "Files/", transport.ParamConsumer: "w1"},
	}})

	s.Respond(request(filemanager.CreateFolder, "w1", transport.Params{transport.ParamPath: "/Files"}, nil))
	s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/Files/a.txt"}, []byte("a")))
	s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/elsewhere.txt"}, []byte("b")))
	require.Equal(t, 2, watcher.count())

	push := watcher.sent[1]
	assert.Equal(t, transport.KindPush, push.Kind)
	assert.Equal(t, filemanager.NotificationTopic, push.Operation)
	assert.Equal(t, "/Files/a.txt", push.Params.String(transport.ParamPath))
	assert.Equal(t, string(filemanager.Save), push.Params.String(transport.ParamEvent))
	assert.Empty(t, push.Consumer())

	s.Handle(&transport.Inbound{Peer: watcher, Closed: true})
	s.Respond(request(filemanager.Save, "w1", transport.Params{transport.ParamPath: "/Files/b.txt"}, []byte("c")))
	assert.Equal(t, 2, watcher.count())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fileserver.toml")
	cfg := DefaultConfig()
	cfg.Root = "data"
	cfg.Restrictions[FilesComponent] = Restriction{ReadOnly: true}
	require.NoError(t, WriteConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "data", got.Root)
	assert.True(t, got.Restrictions[FilesComponent].ReadOnly)
	assert.Equal(t, cfg.MaxChunk, got.MaxChunk)
}
