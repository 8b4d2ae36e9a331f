// Package deepgram provides a Deepgram-backed STT provider. Each utterance is
// streamed over the Deepgram live WebSocket API and the finalized results are
// joined into one transcript. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// frameBytes is the size of each binary audio frame: 100ms of 16 kHz
	// 16-bit mono PCM.
	frameBytes = 3200
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the rate audio is resampled to before upload.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithKeywords sets vocabulary hints for uncommon words.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(p *Provider) { p.keywords = kw }
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	keywords   []stt.KeywordBoost
	endpoint   string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpoint:   deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams u to Deepgram, signals end of audio with CloseStream,
// and collects every final result until the server closes the socket.
func (p *Provider) Transcribe(ctx context.Context, u *audio.Utterance) (stt.Transcript, error) {
	samples := stt.PrepareSamples(u, p.sampleRate, false)
	if len(samples) == 0 {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrNoSpeech)
	}

	wsURL, err := p.buildURL()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results may arrive while audio is still being written.
	type readResult struct {
		tr  stt.Transcript
		err error
	}
	readCh := make(chan readResult, 1)
	go func() {
		tr, err := collect(ctx, conn)
		readCh <- readResult{tr, err}
	}()

	pcm := audio.FloatToPCM16(samples)
	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var res readResult
	select {
	case res = <-readCh:
	case <-ctx.Done():
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", ctx.Err())
	}
	if res.err != nil {
		return stt.Transcript{}, res.err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	res.tr.Language = p.language
	res.tr.Duration = u.Duration
	if res.tr.Text == "" {
		return stt.Transcript{}, fmt.Errorf("deepgram: %w", stt.ErrNoSpeech)
	}
	return res.tr, nil
}

// collect reads messages until Deepgram sends its closing Metadata message or
// closes the connection normally.
func collect(ctx context.Context, conn *websocket.Conn) (stt.Transcript, error) {
	var (
		out   stt.Transcript
		texts []string
		conf  float64
	)
	finish := func() stt.Transcript {
		out.Text = strings.Join(texts, " ")
		if len(texts) > 0 {
			out.Confidence = conf / float64(len(texts))
		}
		return out
	}
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finish(), nil
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		if isMetadata(msg) {
			return finish(), nil
		}
		tr, ok := parseDeepgramResponse(msg)
		if !ok || !tr.final || tr.Text == "" {
			continue
		}
		texts = append(texts, tr.Text)
		conf += tr.Confidence
		out.Words = append(out.Words, tr.Words...)
	}
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", "1")
	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- wire types ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	stt.Transcript
	final bool
}

func isMetadata(data []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(data, &probe) == nil && probe.Type == "Metadata"
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return result{
		Transcript: stt.Transcript{
			Text:       strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
			Words:      words,
		},
		final: resp.IsFinal,
	}, true
}
