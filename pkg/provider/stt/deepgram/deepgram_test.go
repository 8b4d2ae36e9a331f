package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxturn/pkg/audio"
	"github.com/MrWong99/voxturn/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL()
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

func TestBuildURL_Options(t *testing.T) {
	p, err := New("key",
		WithModel("base"),
		WithLanguage("de-DE"),
		WithSampleRate(48000),
		WithKeywords([]stt.KeywordBoost{{Keyword: "voxturn", Boost: 5}, {Keyword: "Zorrath", Boost: 3.5}}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, _ := p.buildURL()
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	kws := q["keywords"]
	if len(kws) != 2 || kws[0] != "voxturn:5" || kws[1] != "Zorrath:3.5" {
		t.Errorf("keywords = %v", kws)
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantOK    bool
		wantFinal bool
		wantText  string
	}{
		{
			name:      "final",
			raw:       `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hello world","confidence":0.95,"words":[{"word":"Hello","start":0.1,"end":0.5,"confidence":0.97}]}]}}`,
			wantOK:    true,
			wantFinal: true,
			wantText:  "Hello world",
		},
		{
			name:     "partial",
			raw:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello","confidence":0.7}]}}`,
			wantOK:   true,
			wantText: "Hello",
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "no alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid JSON", raw: `{invalid`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, ok := parseDeepgramResponse([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if r.final != tc.wantFinal {
				t.Errorf("final = %v, want %v", r.final, tc.wantFinal)
			}
			assertEqual(t, "text", tc.wantText, r.Text)
		})
	}

	r, _ := parseDeepgramResponse([]byte(tests[0].raw))
	if len(r.Words) != 1 || r.Words[0].Start != 100*time.Millisecond {
		t.Errorf("words = %+v", r.Words)
	}
}

// ---- end-to-end over a fake WebSocket server ----

// fakeDeepgram accepts one connection, reads audio until CloseStream, then
// replies with the given messages and closes normally.
type fakeDeepgram struct {
	mu       sync.Mutex
	bytes    int
	auth     string
	query    url.Values
	messages []string
}

func (f *fakeDeepgram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.query = r.URL.Query()
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			f.mu.Lock()
			f.bytes += len(msg)
			f.mu.Unlock()
			continue
		}
		if strings.Contains(string(msg), "CloseStream") {
			break
		}
	}
	for _, m := range f.messages {
		if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func newFake(t *testing.T, messages ...string) (*fakeDeepgram, string) {
	t.Helper()
	f := &fakeDeepgram{messages: messages}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func oneSecond() *audio.Utterance {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.1
	}
	return &audio.Utterance{Samples: samples, SampleRate: 16000, Channels: 1, Duration: time.Second}
}

func TestTranscribe_JoinsFinalResults(t *testing.T) {
	fake, endpoint := newFake(t,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"what","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"what time","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"is it","confidence":0.7}]}}`,
		`{"type":"Metadata","request_id":"r1"}`,
	)
	p, _ := New("secret", WithEndpoint(endpoint))

	tr, err := p.Transcribe(t.Context(), oneSecond())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "text", "what time is it", tr.Text)
	if tr.Confidence < 0.79 || tr.Confidence > 0.81 {
		t.Errorf("Confidence = %v, want 0.8", tr.Confidence)
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.bytes != 32000 {
		t.Errorf("server received %d audio bytes, want 32000", fake.bytes)
	}
	assertEqual(t, "auth", "Token secret", fake.auth)
}

func TestTranscribe_NoFinalsIsNoSpeech(t *testing.T) {
	_, endpoint := newFake(t, `{"type":"Metadata"}`)
	p, _ := New("k", WithEndpoint(endpoint))

	_, err := p.Transcribe(t.Context(), oneSecond())
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if _, err := p.Transcribe(ctx, oneSecond()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
