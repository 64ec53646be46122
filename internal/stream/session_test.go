package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/socially/speech-gateway/internal/analysis"
	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/failure"
)

func testConfig() *config.Config {
	return &config.Config{
		WSPath:           "/ws",
		WSReadLimit:      1 << 20,
		WSWriteTimeout:   10,
		InboundQueue:     64,
		SampleRate:       16000,
		FrameDurationMs:  30,
		ReframeBuffer:    65536,
		MinSpeechFrames:  10,
		MaxSilenceFrames: 20,
		MaxSegmentMs:     30000,
	}
}

func startServer(t *testing.T, cfg *config.Config, analyzer Analyzer) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(NewHandler(cfg, audio.NewEnergyClassifier(nil), analyzer))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrames(t *testing.T, conn *websocket.Conn, chunk []byte, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatalf("Failed to send frame: %v", err)
		}
	}
}

func sendUtterance(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrames(t, conn, speechChunk(), 10)
	sendFrames(t, conn, silenceChunk(), 20)
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

// expectNoMessage fails if the server sends anything within d
func expectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", data)
	}
}

func TestSession_SingleUtterance(t *testing.T) {
	analyzer := &recordingAnalyzer{}
	conn := startServer(t, testConfig(), analyzer)

	sendUtterance(t, conn)

	msg := readMessage(t, conn)
	if msg["transcription"] != "segment" {
		t.Errorf("Expected transcription 'segment', got %v", msg["transcription"])
	}
	if msg["emotion"] != "happy" {
		t.Errorf("Expected emotion 'happy', got %v", msg["emotion"])
	}
	if _, ok := msg["timestamp"].(float64); !ok {
		t.Errorf("Expected numeric timestamp, got %v", msg["timestamp"])
	}

	expectNoMessage(t, conn, 200*time.Millisecond)

	segs := analyzer.Segments()
	if len(segs) != 1 {
		t.Fatalf("Expected 1 analyzed segment, got %d", len(segs))
	}
	if len(segs[0].Samples) != 30*testFrameSize {
		t.Errorf("Expected %d samples, got %d", 30*testFrameSize, len(segs[0].Samples))
	}
}

func TestSession_TwoUtterancesInOrder(t *testing.T) {
	analyzer := &recordingAnalyzer{}
	conn := startServer(t, testConfig(), analyzer)

	sendUtterance(t, conn)
	sendUtterance(t, conn)

	first := readMessage(t, conn)
	second := readMessage(t, conn)

	if first["timestamp"] != float64(1) || second["timestamp"] != float64(2) {
		t.Errorf("Expected results for segments 1 then 2, got %v then %v", first["timestamp"], second["timestamp"])
	}

	segs := analyzer.Segments()
	if len(segs) != 2 {
		t.Fatalf("Expected 2 analyzed segments, got %d", len(segs))
	}
	if &segs[0].Samples[0] == &segs[1].Samples[0] {
		t.Error("Expected segments to own separate buffers")
	}
	for i, seg := range segs {
		if len(seg.Samples) != 30*testFrameSize {
			t.Errorf("Segment %d: expected %d samples, got %d", i, 30*testFrameSize, len(seg.Samples))
		}
	}
}

func TestSession_MalformedChunkKeepsSessionAlive(t *testing.T) {
	analyzer := &recordingAnalyzer{}
	conn := startServer(t, testConfig(), analyzer)

	sendFrames(t, conn, speechChunk(), 5)
	sendFrames(t, conn, make([]byte, 961), 1)

	msg := readMessage(t, conn)
	errText, ok := msg["error"].(string)
	if !ok || !strings.Contains(errText, string(failure.MalformedAudio)) {
		t.Fatalf("Expected malformed_audio error message, got %v", msg)
	}

	// The rejected chunk must not have disturbed the speech run
	sendFrames(t, conn, speechChunk(), 5)
	sendFrames(t, conn, silenceChunk(), 20)

	msg = readMessage(t, conn)
	if _, ok := msg["transcription"]; !ok {
		t.Fatalf("Expected result message, got %v", msg)
	}

	segs := analyzer.Segments()
	if len(segs) != 1 || len(segs[0].Samples) != 30*testFrameSize {
		t.Errorf("Expected one segment of %d samples, got %d segments", 30*testFrameSize, len(segs))
	}
}

func TestSession_RejectsTextAndWrongFrameSize(t *testing.T) {
	tests := []struct {
		name    string
		msgType int
		data    []byte
	}{
		{"text message", websocket.TextMessage, []byte(`{"audio":"abc"}`)},
		{"short frame", websocket.BinaryMessage, make([]byte, 320)},
		{"long frame", websocket.BinaryMessage, make([]byte, 1920)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := startServer(t, testConfig(), &recordingAnalyzer{})

			if err := conn.WriteMessage(tt.msgType, tt.data); err != nil {
				t.Fatalf("Failed to send: %v", err)
			}
			msg := readMessage(t, conn)
			if _, ok := msg["error"]; !ok {
				t.Fatalf("Expected error message, got %v", msg)
			}

			// Session continues after the rejection
			sendUtterance(t, conn)
			msg = readMessage(t, conn)
			if _, ok := msg["transcription"]; !ok {
				t.Errorf("Expected result message, got %v", msg)
			}
		})
	}
}

func TestSession_ReframeMode(t *testing.T) {
	cfg := testConfig()
	cfg.ReframeChunks = true
	conn := startServer(t, cfg, &recordingAnalyzer{})

	var stream []byte
	for i := 0; i < 10; i++ {
		stream = append(stream, speechChunk()...)
	}
	for i := 0; i < 20; i++ {
		stream = append(stream, silenceChunk()...)
	}
	for off := 0; off < len(stream); off += 2000 {
		end := off + 2000
		if end > len(stream) {
			end = len(stream)
		}
		sendFrames(t, conn, stream[off:end], 1)
	}

	msg := readMessage(t, conn)
	if _, ok := msg["transcription"]; !ok {
		t.Errorf("Expected result message, got %v", msg)
	}
}

type unexpectedEngine struct {
	t *testing.T
}

func (e unexpectedEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	e.t.Error("Transcription engine called for a short segment")
	return "", nil
}

func (e unexpectedEngine) ClassifyEmotion(ctx context.Context, samples []float32, sampleRate int) (analysis.Emotion, error) {
	e.t.Error("Emotion engine called for a short segment")
	return analysis.EmotionAngry, nil
}

func (e unexpectedEngine) HealthCheck(ctx context.Context) (bool, error) {
	return true, nil
}

func TestSession_ShortSegmentThroughDispatcher(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechFrames = 5
	cfg.MaxSilenceFrames = 5

	engine := unexpectedEngine{t: t}
	dispatcher := analysis.NewDispatcher(engine, engine, analysis.DefaultDispatcherConfig())
	conn := startServer(t, cfg, dispatcher)

	// 10 frames of 30 ms is under the analysis floor
	sendFrames(t, conn, speechChunk(), 5)
	sendFrames(t, conn, silenceChunk(), 5)

	msg := readMessage(t, conn)
	if msg["transcription"] != "" {
		t.Errorf("Expected empty transcription, got %v", msg["transcription"])
	}
	if msg["emotion"] != "neutral" {
		t.Errorf("Expected emotion 'neutral', got %v", msg["emotion"])
	}
}

func TestSession_SilenceOnlyEmitsNothing(t *testing.T) {
	analyzer := &recordingAnalyzer{}
	conn := startServer(t, testConfig(), analyzer)

	sendFrames(t, conn, silenceChunk(), 100)
	expectNoMessage(t, conn, 300*time.Millisecond)

	if n := len(analyzer.Segments()); n != 0 {
		t.Errorf("Expected no segments, got %d", n)
	}
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}

	srv := httptest.NewServer(NewHandler(cfg, audio.NewEnergyClassifier(nil), &recordingAnalyzer{}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.StatusCode)
	}

	header.Set("Origin", "https://app.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Expected allowed origin to connect, got %v", err)
	}
	conn.Close()
}

func TestClassifyReadError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, failure.TransportClosed},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, failure.TransportClosed},
		{"no status", &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, failure.TransportClosed},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, failure.TransportFault},
		{"message too big", &websocket.CloseError{Code: websocket.CloseMessageTooBig}, failure.TransportFault},
		{"network error", errors.New("connection reset by peer"), failure.TransportFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failure.KindOf(classifyReadError(tt.err))
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
