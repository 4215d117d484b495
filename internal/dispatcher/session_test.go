package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/communication/inproc"
	"github.com/AnishMulay/sandsampler/internal/engine"
	"github.com/AnishMulay/sandsampler/internal/log_service/zaplog"
	"github.com/AnishMulay/sandsampler/internal/metrics"
	"github.com/AnishMulay/sandsampler/internal/mount_registry"
	"github.com/AnishMulay/sandsampler/internal/mount_registry/localdisc"
	"github.com/AnishMulay/sandsampler/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// fakeEngine prints one row per argument. Arguments that map to host
// files are replaced by the file size.
type fakeEngine struct {
	mapPath func(string) (string, bool)

	mu    sync.Mutex
	calls [][]string
}

func (e *fakeEngine) Run(_ context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), argv...))
	e.mu.Unlock()

	if argv[0] == "fail" {
		fmt.Fprintln(stderr, "boom")
		return 2, nil
	}

	fmt.Fprintf(stdout, "cmd\t%s\n", argv[0])
	for _, a := range argv[1:] {
		if host, ok := e.mapPath(a); ok {
			data, err := os.ReadFile(host)
			if err != nil {
				return -1, err
			}
			fmt.Fprintf(stdout, "file\t%d\n", len(data))
			continue
		}
		fmt.Fprintf(stdout, "arg\t%s\n", a)
	}
	return 0, nil
}

func (e *fakeEngine) Close(context.Context) error { return nil }

func (e *fakeEngine) lastCall() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

type fakeLoader struct {
	engine *fakeEngine
	err    error
	loads  int
}

func (l *fakeLoader) Load(_ context.Context, spec engine.Spec) (engine.Engine, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	l.engine = &fakeEngine{mapPath: spec.MapPath}
	return l.engine, nil
}

func newSession(t *testing.T, loader engine.Loader) *Session {
	t.Helper()
	ns, err := localdisc.NewLocalDiscNamespace(t.TempDir(), zaplog.NewNop())
	require.NoError(t, err)

	s, err := NewSession(Options{
		Namespace: ns,
		Loader:    loader,
		Sampler: sampler.Config{
			WindowSize:            100,
			SmallFileFactor:       5,
			BoundaryProbeSize:     20,
			MaxConsecutiveRedraws: 10,
			Seed:                  1,
		},
		Metrics: metrics.New(),
	}, zaplog.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func call(t *testing.T, s *Session, id uint64, action communication.Action, config any) communication.Reply {
	t.Helper()
	req, err := communication.NewRequest(id, action, config)
	require.NoError(t, err)
	reply := s.Handle(context.Background(), req)
	require.Equal(t, id, reply.ID)
	return reply
}

func mustOK(t *testing.T, reply communication.Reply, v any) {
	t.Helper()
	require.Equal(t, communication.ReplyCallback, reply.Action, "reply = %s", reply.Message)
	if v != nil {
		require.NoError(t, json.Unmarshal(reply.Message, v))
	}
}

func mustFail(t *testing.T, reply communication.Reply, code communication.Code) communication.ErrorMessage {
	t.Helper()
	require.Equal(t, communication.ReplyError, reply.Action, "reply = %s", reply.Message)
	em := communication.DecodeErrorMessage(reply.Message)
	assert.Equal(t, code, em.Code, "message = %s", em.Message)
	return em
}

func initSession(t *testing.T) (*Session, *fakeLoader) {
	loader := &fakeLoader{}
	s := newSession(t, loader)
	mustOK(t, call(t, s, 0, communication.ActionInit, communication.InitConfig{Engine: "seqtk"}), nil)
	return s, loader
}

func TestSession_InitLifecycle(t *testing.T) {
	loader := &fakeLoader{}
	s := newSession(t, loader)

	mustFail(t, call(t, s, 0, communication.ActionMount, communication.MountConfig{}), communication.CodeUnavailable)
	mustFail(t, call(t, s, 1, communication.ActionSample, communication.SampleConfig{File: communication.FileRef{Name: "x.fq"}}), communication.CodeUnavailable)

	mustOK(t, call(t, s, 2, communication.ActionInit, communication.InitConfig{Engine: "seqtk", Debug: true}), nil)
	mustFail(t, call(t, s, 3, communication.ActionInit, communication.InitConfig{Engine: "seqtk"}), communication.CodeConflict)
	assert.Equal(t, 1, loader.loads)
}

func TestSession_InitFailureIsFatal(t *testing.T) {
	s := newSession(t, &fakeLoader{err: fmt.Errorf("%w: seqtk.wasm", engine.ErrEngineNotFound)})

	em := mustFail(t, call(t, s, 0, communication.ActionInit, communication.InitConfig{Engine: "seqtk"}), communication.CodeInitFailed)
	assert.Contains(t, em.Message, "seqtk.wasm")

	mustFail(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{}), communication.CodeInitFailed)
	mustFail(t, call(t, s, 2, communication.ActionInit, communication.InitConfig{Engine: "seqtk"}), communication.CodeInitFailed)
}

func TestSession_MountSlotsIncrease(t *testing.T) {
	s, _ := initSession(t)

	var first, second communication.MountResult
	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{}), &first)
	mustOK(t, call(t, s, 2, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "a.fq", Data: []byte("@a\nA\n+\nI\n")}},
	}), &second)

	assert.Equal(t, uint64(1), first.Slot)
	assert.Empty(t, first.Paths)
	assert.Equal(t, uint64(2), second.Slot)
	assert.Equal(t, "/data/2/a.fq", second.Paths["a.fq"])

	mustFail(t, call(t, s, 3, communication.ActionMount, communication.MountConfig{
		Files: []communication.FileRef{{Name: "gone.fq", Path: "/nonexistent/gone.fq"}},
	}), communication.CodeNotFound)
	mustFail(t, call(t, s, 4, communication.ActionMount, communication.MountConfig{
		Files: []communication.FileRef{{Name: "r.fq", URI: "gs://bucket/r.fq"}},
	}), communication.CodeBadRequest)
}

func TestSession_ExecResolvesFiles(t *testing.T) {
	s, loader := initSession(t)
	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "x.fq", Data: []byte("@r\nACGT\n+\nIIII\n")}},
	}), nil)

	var rows [][]any
	mustOK(t, call(t, s, 2, communication.ActionExec, communication.ExecArgs{
		communication.Literal("fqchk"), communication.FileByName("x.fq"), communication.Literal("-q"), communication.Literal(20),
	}), &rows)

	assert.Equal(t, []string{"fqchk", "/data/1/x.fq", "-q", "20"}, loader.engine.lastCall())
	assert.Equal(t, [][]any{
		{"cmd", "fqchk"},
		{"file", float64(15)},
		{"arg", "-q"},
		{"arg", float64(20)},
	}, rows)
	assert.Empty(t, s.outputs)
}

func TestSession_ExecChunkMountsDerivedBlob(t *testing.T) {
	s, loader := initSession(t)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte('a' + i%26)
	}

	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: "a.fq", Data: []byte("a")}}}), nil)
	mustOK(t, call(t, s, 2, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: "b.fq", Data: []byte("b")}}}), nil)
	var mounted communication.MountResult
	mustOK(t, call(t, s, 3, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: "x.fq", Data: data}}}), &mounted)
	require.Equal(t, uint64(3), mounted.Slot)

	chunkArgs := communication.ExecArgs{communication.Literal("comp"), communication.FileChunk("x.fq", 100, 200)}

	var rows [][]any
	mustOK(t, call(t, s, 4, communication.ActionExec, chunkArgs), &rows)

	argv := loader.engine.lastCall()
	require.Len(t, argv, 2)
	assert.Equal(t, "/data/4/sampled-100-200-x.fq", argv[1])
	assert.NotEqual(t, "/data/3/x.fq", argv[1])
	assert.Equal(t, [][]any{{"cmd", "comp"}, {"file", float64(100)}}, rows)

	host, ok := s.registry.HostPath(argv[1])
	require.True(t, ok)
	got, err := os.ReadFile(host)
	require.NoError(t, err)
	assert.Equal(t, data[100:200], got)

	// The same range reuses the derived mount.
	mustOK(t, call(t, s, 5, communication.ActionExec, chunkArgs), nil)
	assert.Equal(t, "/data/4/sampled-100-200-x.fq", loader.engine.lastCall()[1])

	// Re-mounting the source drops chunks cut from the old contents.
	mustOK(t, call(t, s, 6, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: "x.fq", Data: data}}}), nil)
	_, err = s.registry.Lookup(ChunkName("x.fq", 100, 200))
	assert.ErrorIs(t, err, mount_registry.ErrNotFound)

	mustOK(t, call(t, s, 7, communication.ActionExec, chunkArgs), nil)
	assert.Equal(t, "/data/6/sampled-100-200-x.fq", loader.engine.lastCall()[1])
}

func TestSession_ExecChunkIgnoresUserFileWithDerivedName(t *testing.T) {
	s, loader := initSession(t)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	derived := ChunkName("x.fq", 100, 200)
	chunkArgs := communication.ExecArgs{communication.Literal("comp"), communication.FileChunk("x.fq", 100, 200)}

	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: "x.fq", Data: data}}}), nil)
	mustOK(t, call(t, s, 2, communication.ActionExec, chunkArgs), nil)
	assert.Equal(t, "/data/2/"+derived, loader.engine.lastCall()[1])

	// A user blob takes over the derived name.
	var mounted communication.MountResult
	mustOK(t, call(t, s, 3, communication.ActionMount, communication.MountConfig{Blobs: []communication.Blob{{Name: derived, Data: []byte("user")}}}), &mounted)
	require.Equal(t, uint64(3), mounted.Slot)

	var rows [][]any
	mustOK(t, call(t, s, 4, communication.ActionExec, chunkArgs), &rows)
	argv := loader.engine.lastCall()
	assert.Equal(t, "/data/4/"+derived, argv[1])
	assert.Equal(t, [][]any{{"cmd", "comp"}, {"file", float64(100)}}, rows)

	host, ok := s.registry.HostPath(argv[1])
	require.True(t, ok)
	got, err := os.ReadFile(host)
	require.NoError(t, err)
	assert.Equal(t, data[100:200], got)
}

func TestSession_ExecErrors(t *testing.T) {
	s, _ := initSession(t)
	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "x.fq", Data: []byte("@r\nACGT\n+\nIIII\n")}},
	}), nil)

	tests := []struct {
		name string
		args communication.ExecArgs
		code communication.Code
		want string
	}{
		{
			name: "not mounted",
			args: communication.ExecArgs{communication.Literal("comp"), communication.FileByName("y.fq")},
			code: communication.CodeNotFound,
			want: "y.fq",
		},
		{
			name: "chunk past end",
			args: communication.ExecArgs{communication.Literal("comp"), communication.FileChunk("x.fq", 0, 1000)},
			code: communication.CodeBadRequest,
		},
		{
			name: "file as entry point",
			args: communication.ExecArgs{communication.FileByName("x.fq")},
			code: communication.CodeBadRequest,
		},
		{
			name: "no arguments",
			args: communication.ExecArgs{},
			code: communication.CodeBadRequest,
		},
		{
			name: "non-zero exit",
			args: communication.ExecArgs{communication.Literal("fail")},
			code: communication.CodeExecFailed,
			want: "boom",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := mustFail(t, call(t, s, uint64(10+i), communication.ActionExec, tt.args), tt.code)
			if tt.want != "" {
				assert.Contains(t, em.Message, tt.want)
			}
		})
	}
	assert.Empty(t, s.outputs)
}

func TestSession_ExecWithoutEngine(t *testing.T) {
	s := newSession(t, nil)
	mustOK(t, call(t, s, 0, communication.ActionInit, communication.InitConfig{}), nil)
	mustFail(t, call(t, s, 1, communication.ActionExec, communication.ExecArgs{communication.Literal("comp")}), communication.CodeUnavailable)
}

func TestSession_Sample(t *testing.T) {
	s, _ := initSession(t)
	record := []byte("@r1\nACGT\n+\nIIII\n")
	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "x.fq", Data: record}},
	}), nil)

	cfg := communication.SampleConfig{File: communication.FileRef{Name: "x.fq"}, IsValidChunk: "fastq"}

	var first communication.SampleResult
	mustOK(t, call(t, s, 2, communication.ActionSample, cfg), &first)
	assert.Equal(t, communication.SampleResult{Start: 0, End: int64(len(record)), Coverage: 1}, first)

	var second communication.SampleResult
	mustOK(t, call(t, s, 3, communication.ActionSample, cfg), &second)
	assert.True(t, second.Done)

	mustFail(t, call(t, s, 4, communication.ActionSample, communication.SampleConfig{File: communication.FileRef{Name: "y.fq"}}), communication.CodeNotFound)
	mustFail(t, call(t, s, 5, communication.ActionSample, communication.SampleConfig{File: communication.FileRef{Name: "x.fq"}, IsValidChunk: "bam"}), communication.CodeBadRequest)
}

func TestSession_GzipSampledAsPrefixes(t *testing.T) {
	s, loader := initSession(t)

	reads := bytes.Repeat([]byte("@r1\nACGTACGT\n+\nIIIIIIII\n"), 40)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(reads)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	compressed := buf.Bytes()

	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "x.fq.gz", Data: compressed}},
	}), nil)

	cfg := communication.SampleConfig{File: communication.FileRef{Name: "x.fq.gz"}, IsValidChunk: "fastq"}
	var last communication.SampleResult
	for id := uint64(2); ; id++ {
		var win communication.SampleResult
		mustOK(t, call(t, s, id, communication.ActionSample, cfg), &win)
		if win.Done {
			break
		}
		require.Equal(t, int64(0), win.Start)
		require.Greater(t, win.End, last.End)
		last = win
	}
	assert.Equal(t, int64(len(compressed)), last.End)

	var rows [][]any
	chunk := communication.FileChunk("x.fq.gz", 0, last.End)
	mustOK(t, call(t, s, 100, communication.ActionExec, communication.ExecArgs{communication.Literal("comp"), chunk}), &rows)
	assert.Equal(t, fmt.Sprintf("/data/2/sampled-0-%d-x.fq", last.End), loader.engine.lastCall()[1])
	assert.Equal(t, [][]any{{"cmd", "comp"}, {"file", float64(len(reads))}}, rows)

	mustFail(t, call(t, s, 101, communication.ActionExec, communication.ExecArgs{
		communication.Literal("comp"),
		communication.FileChunk("x.fq.gz", 5, last.End),
	}), communication.CodeBadRequest)
}

func TestSession_SampleNoBoundary(t *testing.T) {
	s, _ := initSession(t)
	mustOK(t, call(t, s, 1, communication.ActionMount, communication.MountConfig{
		Blobs: []communication.Blob{{Name: "junk.fq", Data: []byte("no records in here")}},
	}), nil)

	mustFail(t, call(t, s, 2, communication.ActionSample, communication.SampleConfig{
		File:         communication.FileRef{Name: "junk.fq"},
		IsValidChunk: "fastq",
	}), communication.CodeNoBoundary)
}

func TestSession_ServeUnknownActionKeepsGoing(t *testing.T) {
	s, _ := initSession(t)
	controller, worker := inproc.NewPipe(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx, worker) }()

	require.NoError(t, controller.SendRaw(ctx, []byte("{not json")))
	require.NoError(t, controller.SendRaw(ctx, []byte(`{"id":7,"action":"reboot"}`)))

	reply, err := controller.ReceiveReply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), reply.ID)
	em := mustFail(t, reply, communication.CodeBadRequest)
	assert.Contains(t, em.Message, "reboot")

	req, err := communication.NewRequest(8, communication.ActionMount, communication.MountConfig{})
	require.NoError(t, err)
	require.NoError(t, controller.SendRequest(ctx, req))

	reply, err = controller.ReceiveReply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), reply.ID)
	mustOK(t, reply, nil)

	controller.Close()
	require.NoError(t, <-served)
}

func TestSession_ServeRepliesInArrivalOrder(t *testing.T) {
	s, _ := initSession(t)
	controller, worker := inproc.NewPipe(64)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go s.Serve(ctx, worker)

	const n = 20
	for i := uint64(1); i <= n; i++ {
		action := communication.ActionMount
		var config any = communication.MountConfig{}
		if i%3 == 0 {
			action = communication.ActionSample
			config = communication.SampleConfig{File: communication.FileRef{Name: "missing"}}
		}
		req, err := communication.NewRequest(i, action, config)
		require.NoError(t, err)
		require.NoError(t, controller.SendRequest(ctx, req))
	}

	for i := uint64(1); i <= n; i++ {
		reply, err := controller.ReceiveReply(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, reply.ID)
	}
	controller.Close()
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want communication.Code
	}{
		{&engine.ExitError{Code: 1}, communication.CodeExecFailed},
		{fmt.Errorf("wrapped: %w", mount_registry.ErrNotFound), communication.CodeNotFound},
		{sampler.ErrNoRecordBoundary, communication.CodeNoBoundary},
		{ErrAlreadyInitialized, communication.CodeConflict},
		{ErrNotInitialized, communication.CodeUnavailable},
		{communication.ErrInvalidAction, communication.CodeBadRequest},
		{errors.New("disk on fire"), communication.CodeInternal},
	}
	for _, tt := range tests {
		if got := codeFor(tt.err); got != tt.want {
			t.Errorf("codeFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
