package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const aiMaxAttempts = 2

var (
	// ErrAIEmptyResponse indicates the backend returned a completion with
	// no usable text.
	ErrAIEmptyResponse = errors.New("empty response from AI")

	// ErrAITimeout indicates a single attempt did not complete within the
	// configured request timeout.
	ErrAITimeout = errors.New("AI request timed out")
)

// AIError is returned by [AIClient.Respond] after all attempts are
// exhausted. The dispatcher converts it into exactly one user-facing
// fallback message.
type AIError struct {
	Attempts int
	Err      error
}

func (e *AIError) Error() string {
	return fmt.Sprintf("AI request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AIError) Unwrap() error {
	return e.Err
}

// ChatCompleter is the subset of the OpenAI client used by the bot, to
// enable testing/mocking.
type ChatCompleter interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

// AIClient wraps the chat-completion backend behind a bounded
// retry-with-timeout policy. The underlying client is modeled as a
// resource handle: a failed attempt marks it unhealthy, and the next
// attempt transparently re-acquires it before calling.
type AIClient struct {
	config         *AIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter

	mu      sync.Mutex
	client  ChatCompleter
	healthy bool

	// acquireFunc builds a fresh client. Replaceable in tests.
	acquireFunc func() ChatCompleter
}

func newAIClient(
	config *AIConfig,
	httpClient *http.Client,
	handler slog.Handler,
) *AIClient {
	a := &AIClient{
		config: config,
		logger: slog.New(handler).With(loggerNameKey, "ai"),
		requestLimiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond), 1,
		),
	}
	a.acquireFunc = func() ChatCompleter {
		clientCfg := openai.DefaultConfig(config.Token)
		if config.BaseURL != "" {
			clientCfg.BaseURL = config.BaseURL
		}
		if httpClient != nil {
			clientCfg.HTTPClient = httpClient
		}
		return openai.NewClientWithConfig(clientCfg)
	}
	return a
}

// acquire builds a fresh client handle and marks it healthy.
func (a *AIClient) acquire() ChatCompleter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = a.acquireFunc()
	a.healthy = true
	a.logger.Debug("acquired AI client")
	return a.client
}

// release drops the current handle. Called on shutdown.
func (a *AIClient) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = nil
	a.healthy = false
}

func (a *AIClient) isHealthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil && a.healthy
}

func (a *AIClient) markUnhealthy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = false
}

func (a *AIClient) currentClient() ChatCompleter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Respond sends the assembled prompt to the chat backend and returns the
// reply text. Each attempt is raced against the configured request
// timeout; on failure, timeout, or an empty reply it backs off briefly and
// retries exactly once. A second failure returns an *AIError - the caller
// sends a single fallback message and does not retry further.
func (a *AIClient) Respond(
	ctx context.Context,
	userText string,
	systemContext string,
) (string, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = a.logger
	}

	var lastErr error
	for attempt := 1; attempt <= aiMaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Info(
				"retrying AI request",
				"attempt", attempt,
				"backoff", a.config.RetryBackoff,
			)
			select {
			case <-time.After(a.config.RetryBackoff):
			case <-ctx.Done():
				return "", &AIError{Attempts: attempt - 1, Err: ctx.Err()}
			}
		}

		reply, err := a.attempt(ctx, userText, systemContext)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		a.markUnhealthy()
		logger.Warn("AI request failed", tint.Err(err), "attempt", attempt)
	}

	return "", &AIError{Attempts: aiMaxAttempts, Err: lastErr}
}

type aiResult struct {
	content string
	err     error
}

// attempt performs one chat-completion call, raced against a timer. The
// call and the timer start together and whichever settles first wins. The
// losing call isn't cancelled - a remote completion can't be - its
// eventual result lands in a buffered channel and is discarded.
func (a *AIClient) attempt(
	ctx context.Context,
	userText string,
	systemContext string,
) (string, error) {
	client := a.currentClient()
	if !a.isHealthy() {
		client = a.acquire()
	}

	if err := a.requestLimiter.Wait(ctx); err != nil {
		return "", err
	}

	request := openai.ChatCompletionRequest{
		Model: a.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemContext,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userText,
			},
		},
	}
	if a.config.Seed >= 0 {
		seed := a.config.Seed
		request.Seed = &seed
	}

	resultCh := make(chan aiResult, 1)
	go func() {
		resp, err := client.CreateChatCompletion(ctx, request)
		if err != nil {
			resultCh <- aiResult{err: err}
			return
		}
		if len(resp.Choices) == 0 {
			resultCh <- aiResult{err: ErrAIEmptyResponse}
			return
		}
		resultCh <- aiResult{content: resp.Choices[0].Message.Content}
	}()

	timer := time.NewTimer(a.config.RequestTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}
		if strings.TrimSpace(result.content) == "" {
			return "", ErrAIEmptyResponse
		}
		return result.content, nil
	case <-timer.C:
		return "", ErrAITimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
