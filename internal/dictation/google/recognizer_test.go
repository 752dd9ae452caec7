package google

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lcars-os/internal/dictation"
)

type fakeStream struct {
	mu        sync.Mutex
	responses []*speechpb.StreamingRecognizeResponse
	recvErr   error
	sent      []*speechpb.StreamingRecognizeRequest
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream(responses ...*speechpb.StreamingRecognizeResponse) *fakeStream {
	return &fakeStream{responses: responses, closed: make(chan struct{})}
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	f.mu.Lock()
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()
		return resp, nil
	}
	recvErr := f.recvErr
	f.mu.Unlock()
	if recvErr != nil {
		return nil, recvErr
	}
	<-f.closed
	return nil, io.EOF
}

func (f *fakeStream) CloseSend() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) audioChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.sent {
		if len(req.GetAudioContent()) > 0 {
			n++
		}
	}
	return n
}

type fakeClient struct {
	mu      sync.Mutex
	streams []*fakeStream
	opened  []*fakeStream
	closed  bool
}

func (f *fakeClient) StreamingRecognize(ctx context.Context) (recognizeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stream := newFakeStream()
	if len(f.streams) > 0 {
		stream = f.streams[0]
		f.streams = f.streams[1:]
	}
	f.opened = append(f.opened, stream)
	return stream, nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeSource struct {
	reader   io.ReadCloser
	availErr error
	stops    int
}

func (f *fakeSource) Start(ctx context.Context) (io.ReadCloser, error) { return f.reader, nil }
func (f *fakeSource) Stop() error                                      { f.stops++; return nil }
func (f *fakeSource) Available() error                                 { return f.availErr }

type recordingCallback struct {
	mu       sync.Mutex
	partials []string
	finals   []string
	errs     []error
}

func (r *recordingCallback) OnPartial(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *recordingCallback) OnFinal(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, text)
}

func (r *recordingCallback) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func result(text string, final bool) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
			IsFinal:      final,
		}},
	}
}

func newTestRecognizer(client *fakeClient, source *fakeSource, limit time.Duration) *Recognizer {
	r := New(Options{CaptureCommand: []string{"capture"}, StreamLimit: limit})
	r.source = source
	r.newClient = func(ctx context.Context) (streamClient, error) { return client, nil }
	return r
}

func startRecognizer(t *testing.T, r *Recognizer, cb dictation.Callback) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []dictation.Permission{dictation.PermissionSpeech, dictation.PermissionMicrophone} {
		if ok, err := r.RequestPermission(ctx, p); !ok || err != nil {
			t.Fatalf("permission %s: ok=%v err=%v", p, ok, err)
		}
	}
	if err := r.Prepare(ctx, "en-US"); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := r.StartCapture(ctx, cb); err != nil {
		t.Fatalf("start capture: %v", err)
	}
}

func waitDone(t *testing.T, r *Recognizer) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("recognizer did not finish")
	}
}

// TestRecognizerStreamsAudioAndAccumulatesFinals verifies callbacks carry
// the whole utterance so far.
func TestRecognizerStreamsAudioAndAccumulatesFinals(t *testing.T) {
	stream := newFakeStream(
		result("hello", false),
		result("hello there", true),
		result("general", false),
		result("general kenobi", true),
	)
	client := &fakeClient{streams: []*fakeStream{stream}}
	audio := bytes.Repeat([]byte{1}, chunkBytes*3)
	source := &fakeSource{reader: io.NopCloser(bytes.NewReader(audio))}
	cb := &recordingCallback{}

	r := newTestRecognizer(client, source, time.Minute)
	startRecognizer(t, r, cb)
	waitDone(t, r)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	wantPartials := []string{"hello", "hello there general"}
	wantFinals := []string{"hello there", "hello there general kenobi"}
	if strings.Join(cb.partials, "|") != strings.Join(wantPartials, "|") {
		t.Fatalf("partials = %q", cb.partials)
	}
	if strings.Join(cb.finals, "|") != strings.Join(wantFinals, "|") {
		t.Fatalf("finals = %q", cb.finals)
	}
	if len(cb.errs) != 0 {
		t.Fatalf("unexpected errors: %v", cb.errs)
	}
	if got := stream.audioChunks(); got != 3 {
		t.Fatalf("audio chunks = %d, want 3", got)
	}
	first := stream.sent[0].GetStreamingConfig()
	if first == nil || first.GetConfig().GetLanguageCode() != "en-US" || !first.GetInterimResults() {
		t.Fatalf("first request should be the streaming config, got %+v", stream.sent[0])
	}
	if !client.closed {
		t.Fatalf("client should be closed")
	}
}

// TestRecognizerReopensStreamAtLimit verifies finalized text carries over to
// the next stream.
func TestRecognizerReopensStreamAtLimit(t *testing.T) {
	client := &fakeClient{streams: []*fakeStream{
		newFakeStream(result("one", true)),
		newFakeStream(result("two", true)),
	}}
	pr, pw := io.Pipe()
	source := &fakeSource{reader: pr}
	cb := &recordingCallback{}

	r := newTestRecognizer(client, source, 20*time.Millisecond)
	startRecognizer(t, r, cb)

	deadline := time.Now().Add(2 * time.Second)
	for client.openedCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("stream was not reopened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_ = pw.Close()
	waitDone(t, r)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.finals) != 2 || cb.finals[1] != "one two" {
		t.Fatalf("finals = %q", cb.finals)
	}
}

// TestRecognizerReportsStreamError verifies non-limit gRPC errors reach
// OnError.
func TestRecognizerReportsStreamError(t *testing.T) {
	stream := newFakeStream()
	stream.recvErr = status.Error(codes.Unavailable, "backend down")
	client := &fakeClient{streams: []*fakeStream{stream}}
	pr, pw := io.Pipe()
	defer pw.Close()
	cb := &recordingCallback{}

	r := newTestRecognizer(client, &fakeSource{reader: pr}, time.Minute)
	startRecognizer(t, r, cb)
	// Recv fails at once; pump exits when the audio ends.
	_ = pw.Close()
	waitDone(t, r)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.errs) != 1 || status.Code(cb.errs[0]) != codes.Unavailable {
		t.Fatalf("errs = %v", cb.errs)
	}
}

// TestRecognizerPermissions verifies credential and capture failures deny.
func TestRecognizerPermissions(t *testing.T) {
	r := New(Options{CaptureCommand: []string{"capture"}})
	r.newClient = func(ctx context.Context) (streamClient, error) {
		return nil, errors.New("no credentials")
	}
	r.source = &fakeSource{availErr: errors.New("not found")}

	ctx := context.Background()
	if ok, err := r.RequestPermission(ctx, dictation.PermissionSpeech); ok || err == nil {
		t.Fatalf("speech: ok=%v err=%v", ok, err)
	}
	if ok, err := r.RequestPermission(ctx, dictation.PermissionMicrophone); ok || err == nil {
		t.Fatalf("microphone: ok=%v err=%v", ok, err)
	}
	if err := r.Prepare(ctx, "en-US"); !errors.Is(err, dictation.ErrUnavailable) {
		t.Fatalf("prepare without client: %v", err)
	}
}

// TestPrepareRejectsInvalidLocale verifies locale validation.
func TestPrepareRejectsInvalidLocale(t *testing.T) {
	r := newTestRecognizer(&fakeClient{}, &fakeSource{}, time.Minute)
	if _, err := r.RequestPermission(context.Background(), dictation.PermissionSpeech); err != nil {
		t.Fatalf("permission: %v", err)
	}
	if err := r.Prepare(context.Background(), "not a locale!"); !errors.Is(err, dictation.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestDefaultCaptureCommand verifies the input framework per OS.
func TestDefaultCaptureCommand(t *testing.T) {
	tests := map[string]string{
		"darwin":  "avfoundation",
		"linux":   "pulse",
		"windows": "dshow",
	}
	for goos, framework := range tests {
		argv := DefaultCaptureCommand(goos, 16000)
		joined := strings.Join(argv, " ")
		if argv[0] != DefaultCaptureBinary || !strings.Contains(joined, "-f "+framework) {
			t.Fatalf("%s: %v", goos, argv)
		}
		if !strings.HasSuffix(joined, "-ar 16000 -f s16le -") {
			t.Fatalf("%s: unexpected output args %v", goos, argv)
		}
	}
	if got := ParseCaptureCommand("arecord -f S16_LE -", 16000); len(got) != 4 || got[0] != "arecord" {
		t.Fatalf("custom command = %v", got)
	}
}

// TestTranscriptJoin verifies segment accumulation.
func TestTranscriptJoin(t *testing.T) {
	text := &transcript{}
	if got := text.interim(" hi "); got != "hi" {
		t.Fatalf("interim = %q", got)
	}
	text.commit("hi there")
	if got := text.interim("friend"); got != "hi there friend" {
		t.Fatalf("interim = %q", got)
	}
	if got := text.commit(""); got != "hi there" {
		t.Fatalf("commit empty = %q", got)
	}
}
