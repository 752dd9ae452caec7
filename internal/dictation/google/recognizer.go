// Package google provides a dictation.Recognizer backed by Google Cloud
// Speech-to-Text streaming recognition.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lcars-os/internal/dictation"
)

const (
	// DefaultSampleRate is the capture rate sent to the API.
	DefaultSampleRate = 16000

	// DefaultStreamLimit reopens the stream before the API's per-stream
	// audio cap.
	DefaultStreamLimit = 290 * time.Second

	// 100ms of 16-bit mono audio at the default rate.
	chunkBytes = DefaultSampleRate / 10 * 2
)

// Options configures the recognizer.
type Options struct {
	// CredentialsFile overrides GOOGLE_APPLICATION_CREDENTIALS.
	CredentialsFile string
	// CaptureCommand is the argv of the microphone capture process.
	CaptureCommand []string
	SampleRate     int
	StreamLimit    time.Duration
}

// recognizeStream is the part of the gRPC stream the recognizer uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamClient interface {
	StreamingRecognize(ctx context.Context) (recognizeStream, error)
	Close() error
}

type speechClient struct{ c *speech.Client }

func (s speechClient) StreamingRecognize(ctx context.Context) (recognizeStream, error) {
	return s.c.StreamingRecognize(ctx)
}

func (s speechClient) Close() error { return s.c.Close() }

// Recognizer streams microphone audio to Google Cloud Speech.
type Recognizer struct {
	opts      Options
	source    audioSource
	newClient func(ctx context.Context) (streamClient, error)

	mu       sync.Mutex
	client   streamClient
	language string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a recognizer. No network calls are made until permission is
// requested.
func New(opts Options) *Recognizer {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.StreamLimit <= 0 {
		opts.StreamLimit = DefaultStreamLimit
	}
	if len(opts.CaptureCommand) == 0 {
		opts.CaptureCommand = ParseCaptureCommand("", opts.SampleRate)
	}

	r := &Recognizer{
		opts:   opts,
		source: newCommandSource(opts.CaptureCommand),
	}
	r.newClient = func(ctx context.Context) (streamClient, error) {
		var clientOpts []option.ClientOption
		if opts.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
		}
		c, err := speech.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		return speechClient{c: c}, nil
	}
	return r
}

// RequestPermission maps speech authorization to obtaining API credentials and
// microphone access to the capture command being runnable.
func (r *Recognizer) RequestPermission(ctx context.Context, p dictation.Permission) (bool, error) {
	switch p {
	case dictation.PermissionSpeech:
		client, err := r.newClient(ctx)
		if err != nil {
			return false, fmt.Errorf("speech client: %w", err)
		}
		r.mu.Lock()
		r.client = client
		r.mu.Unlock()
		return true, nil
	case dictation.PermissionMicrophone:
		if err := r.source.Available(); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown permission %s", p)
	}
}

// Prepare validates the locale as a BCP 47 tag.
func (r *Recognizer) Prepare(ctx context.Context, locale string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("locale %q: %w", locale, dictation.ErrUnavailable)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return fmt.Errorf("no speech client: %w", dictation.ErrUnavailable)
	}
	r.language = tag.String()
	return nil
}

// StartCapture starts the microphone and the recognition loop.
func (r *Recognizer) StartCapture(ctx context.Context, cb dictation.Callback) error {
	r.mu.Lock()
	client := r.client
	lang := r.language
	if r.done != nil {
		r.mu.Unlock()
		return errors.New("capture already started")
	}
	r.mu.Unlock()
	if client == nil {
		return fmt.Errorf("no speech client: %w", dictation.ErrUnavailable)
	}

	audio, err := r.source.Start(ctx)
	if err != nil {
		return err
	}

	stream, err := r.openStream(ctx, client, lang)
	if err != nil {
		_ = r.source.Stop()
		_ = audio.Close()
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer audio.Close()
		defer client.Close()
		r.run(ctx, client, lang, stream, audio, cb)
	}()
	return nil
}

// Stop ends microphone capture. Results for audio already sent still arrive
// through the callback.
func (r *Recognizer) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		err = r.source.Stop()
	})
	return err
}

// Done is closed once the recognition loop exits; nil before StartCapture.
func (r *Recognizer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recognizer) openStream(ctx context.Context, client streamClient, lang string) (recognizeStream, error) {
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(r.opts.SampleRate),
					LanguageCode:               lang,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	return stream, nil
}

// run pumps audio into successive streams until the source ends.
func (r *Recognizer) run(ctx context.Context, client streamClient, lang string, stream recognizeStream, audio io.Reader, cb dictation.Callback) {
	text := &transcript{}
	chunks := make(chan []byte, 16)
	quit := make(chan struct{})
	defer close(quit)
	go readChunks(audio, chunks, quit)

	for {
		recvDone := make(chan error, 1)
		go func(s recognizeStream) {
			recvDone <- receive(s, text, cb)
		}(stream)

		audioEnded, sendErr := r.pump(ctx, stream, chunks)
		_ = stream.CloseSend()
		recvErr := <-recvDone

		if ctx.Err() != nil {
			return
		}
		if err := firstError(sendErr, recvErr); err != nil {
			cb.OnError(err)
			return
		}
		if audioEnded {
			return
		}

		next, err := r.openStream(ctx, client, lang)
		if err != nil {
			cb.OnError(err)
			return
		}
		stream = next
	}
}

// pump forwards audio until the stream limit, returning true once the audio
// source is exhausted.
func (r *Recognizer) pump(ctx context.Context, stream recognizeStream, chunks <-chan []byte) (bool, error) {
	limit := time.NewTimer(r.opts.StreamLimit)
	defer limit.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-limit.C:
			return false, nil
		case chunk, ok := <-chunks:
			if !ok {
				return true, nil
			}
			err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			})
			if err == io.EOF {
				// The server closed the stream; Recv carries the reason.
				return false, nil
			}
			if err != nil {
				return false, fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

// receive delivers results from one stream. A clean end or the API's
// duration limit returns nil so the caller can reopen.
func receive(stream recognizeStream, text *transcript, cb dictation.Callback) error {
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.OutOfRange {
				return nil
			}
			return err
		}
		if resp.GetError() != nil {
			return fmt.Errorf("speech: %s", resp.GetError().GetMessage())
		}

		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			if result.GetIsFinal() {
				cb.OnFinal(text.commit(alts[0].GetTranscript()))
			} else {
				cb.OnPartial(text.interim(alts[0].GetTranscript()))
			}
		}
	}
}

func readChunks(r io.Reader, out chan<- []byte, quit <-chan struct{}) {
	defer close(out)
	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// transcript accumulates finalized segments so every callback carries the
// whole utterance so far.
type transcript struct {
	mu        sync.Mutex
	committed string
}

func (t *transcript) interim(segment string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return join(t.committed, segment)
}

func (t *transcript) commit(segment string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = join(t.committed, segment)
	return t.committed
}

func join(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
