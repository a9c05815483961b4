package stt

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleRecognizer opens streaming sessions against Google Cloud
// Speech-to-Text v2.
type GoogleRecognizer struct {
	client *speech.Client
}

// NewGoogleRecognizer creates a recognizer using application default
// credentials unless client options say otherwise.
func NewGoogleRecognizer(ctx context.Context, opts ...option.ClientOption) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleRecognizer{client: client}, nil
}

// Name returns the service identifier.
func (g *GoogleRecognizer) Name() string {
	return "google"
}

// Close releases the underlying client. Open sessions end with it.
func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

// Open starts one streaming recognition call. The wildcard recognizer
// takes its configuration from the first request on the stream.
func (g *GoogleRecognizer) Open(ctx context.Context, cfg Config) (Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	if err := stream.Send(configRequest(cfg)); err != nil {
		cancel()
		return nil, err
	}

	s := &googleSession{
		stream:  stream,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan Transcription, 16),
	}
	go s.readLoop()
	return s, nil
}

// configRequest builds the leading request that configures the call.
// Every request after it carries only audio.
func configRequest(cfg Config) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: cfg.RecognizerPath(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(cfg.SampleRate),
							AudioChannelCount: int32(cfg.Channels),
						},
					},
					LanguageCodes: []string{cfg.Language},
					Model:         cfg.Model,
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults: cfg.InterimResults,
				},
			},
		},
	}
}

type googleSession struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	ctx     context.Context
	cancel  context.CancelFunc
	results chan Transcription

	writeMu sync.Mutex
	closed  atomic.Bool
	err     error
}

func (s *googleSession) Send(data []byte) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: data,
		},
	})
}

func (s *googleSession) Results() <-chan Transcription {
	return s.results
}

func (s *googleSession) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.CloseSend()
}

func (s *googleSession) Err() error {
	return s.err
}

func (s *googleSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()
	return nil
}

// readLoop receives service responses until the call ends. A Canceled
// status is our own teardown and ends the session cleanly.
func (s *googleSession) readLoop() {
	defer close(s.results)
	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return
			}
			s.err = err
			return
		}
		for _, tr := range translateResponse(resp) {
			select {
			case s.results <- tr:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

// translateResponse flattens a service response into transcriptions.
// Empty interim hypotheses are noise and skipped; an empty final still
// commits the utterance and is kept.
func translateResponse(resp *speechpb.StreamingRecognizeResponse) []Transcription {
	var out []Transcription
	now := time.Now()
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := alts[0].GetTranscript()
		if text == "" && !res.GetIsFinal() {
			continue
		}
		out = append(out, Transcription{
			Text:      text,
			IsFinal:   res.GetIsFinal(),
			Timestamp: now,
		})
	}
	return out
}
