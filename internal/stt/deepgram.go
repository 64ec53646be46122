package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/socially/speech-gateway/internal/audio"
	"github.com/socially/speech-gateway/internal/config"
	"github.com/socially/speech-gateway/internal/observability"
	"github.com/socially/speech-gateway/internal/resilience"
)

const breakerName = "deepgram"

// recognizer sends one WAV payload to the engine and returns its raw response
type recognizer func(ctx context.Context, wav io.Reader) (interface{}, error)

// DeepgramTranscriber transcribes completed segments with Deepgram's
// pre-recorded API. One instance is shared by every session.
type DeepgramTranscriber struct {
	config         *config.Config
	recognize      recognizer
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewDeepgramTranscriber creates a transcriber using the configured API key,
// model and language
func NewDeepgramTranscriber(cfg *config.Config) *DeepgramTranscriber {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       cfg.DeepgramModel,
		Language:    cfg.DeepgramLanguage,
		Punctuate:   true,
		SmartFormat: true,
	}

	client := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	dg := api.New(client)

	return newDeepgramTranscriber(cfg, func(ctx context.Context, wav io.Reader) (interface{}, error) {
		return dg.FromStream(ctx, wav, options)
	})
}

func newDeepgramTranscriber(cfg *config.Config, recognize recognizer) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		config:    cfg,
		recognize: recognize,
		circuitBreaker: resilience.NewCircuitBreaker(
			breakerName,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
			resilience.WithStateChange(func(name string, from, to resilience.CircuitState) {
				observability.CircuitBreakerTransition(name, int(to), to.String())
			}),
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.WithComponent("stt"),
	}
}

// Transcribe sends the samples as a 16-bit WAV and returns the top transcript.
// Silence yields an empty string, not an error.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	wav := audio.EncodeWAV(samples, sampleRate)

	var transcript string
	err := d.circuitBreaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			res, err := d.recognize(ctx, bytes.NewReader(wav))
			if err != nil {
				return err
			}

			text, err := extractTranscript(res)
			if err != nil {
				return err
			}
			transcript = text
			return nil
		}, d.retryConfig, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	d.logger.Debug().
		Int("samples", len(samples)).
		Int("chars", len(transcript)).
		Msg("Deepgram transcription complete")
	return transcript, nil
}

// HealthCheck reports whether transcription requests are currently admitted.
// The pre-recorded API has no cheap ping, so an open breaker is the signal.
func (d *DeepgramTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	if d.config.DeepgramAPIKey == "" {
		return false, fmt.Errorf("deepgram API key is not configured")
	}
	if state := d.circuitBreaker.GetState(); state == resilience.StateOpen {
		return false, fmt.Errorf("deepgram circuit breaker is %s", state)
	}
	return true, nil
}

// prerecordedResponse mirrors the subset of Deepgram's response we read
type prerecordedResponse struct {
	Results *struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// extractTranscript reads the first alternative of every channel through the
// response's JSON form
func extractTranscript(res interface{}) (string, error) {
	if res == nil {
		return "", fmt.Errorf("deepgram returned no response")
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to encode deepgram response: %w", err)
	}

	var parsed prerecordedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode deepgram response: %w", err)
	}
	if parsed.Results == nil {
		return "", fmt.Errorf("deepgram response has no results")
	}

	parts := make([]string, 0, len(parsed.Results.Channels))
	for _, ch := range parsed.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(ch.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
