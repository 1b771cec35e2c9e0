package guardian

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	calls atomic.Int32
	fn    func(
		ctx context.Context,
		req openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

func (f *fakeCompleter) CreateChatCompletion(
	ctx context.Context,
	req openai.ChatCompletionRequest,
) (openai.ChatCompletionResponse, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestAIClient(
	t testing.TB,
	completers ...*fakeCompleter,
) (*AIClient, *atomic.Int32) {
	t.Helper()
	client := newAIClient(
		&AIConfig{
			Token:                "test-token",
			Model:                DefaultAIModel,
			Seed:                 -1,
			RequestTimeout:       100 * time.Millisecond,
			RetryBackoff:         10 * time.Millisecond,
			MaxRequestsPerSecond: 1000,
			LogLevel:             &slog.LevelVar{},
		},
		nil,
		testLogHandler(),
	)
	acquires := &atomic.Int32{}
	client.acquireFunc = func() ChatCompleter {
		n := int(acquires.Add(1))
		if n > len(completers) {
			n = len(completers)
		}
		return completers[n-1]
	}
	return client, acquires
}

func TestAIClient_RespondFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return chatResponse("Here's how to find diamonds!"), nil
		},
	}
	client, acquires := newTestAIClient(t, completer)

	reply, err := client.Respond(
		context.Background(),
		"how do I find diamonds",
		"persona",
	)
	require.NoError(t, err)
	assert.Equal(t, "Here's how to find diamonds!", reply)
	assert.Equal(t, int32(1), completer.calls.Load())
	assert.Equal(t, int32(1), acquires.Load())
}

func TestAIClient_RespondSendsSystemAndUserMessages(t *testing.T) {
	t.Parallel()
	var captured openai.ChatCompletionRequest
	completer := &fakeCompleter{
		fn: func(
			_ context.Context, req openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			captured = req
			return chatResponse("ok"), nil
		},
	}
	client, _ := newTestAIClient(t, completer)

	_, err := client.Respond(context.Background(), "question", "system text")
	require.NoError(t, err)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "system text", captured.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, captured.Messages[1].Role)
	assert.Equal(t, "question", captured.Messages[1].Content)
	assert.Equal(t, DefaultAIModel, captured.Model)
	assert.Nil(t, captured.Seed)
}

func TestAIClient_TimeoutThenSuccess(t *testing.T) {
	t.Parallel()
	slow := &fakeCompleter{
		fn: func(
			ctx context.Context, _ openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			return chatResponse("too late"), nil
		},
	}
	fast := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return chatResponse("second attempt wins"), nil
		},
	}
	client, acquires := newTestAIClient(t, slow, fast)

	reply, err := client.Respond(context.Background(), "hello", "persona")
	require.NoError(t, err)
	assert.Equal(t, "second attempt wins", reply)
	// the first handle was marked unhealthy, so a fresh one was acquired
	assert.Equal(t, int32(2), acquires.Load())
}

func TestAIClient_BothAttemptsFail(t *testing.T) {
	t.Parallel()
	backendErr := errors.New("backend exploded")
	completer := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, backendErr
		},
	}
	client, _ := newTestAIClient(t, completer)

	reply, err := client.Respond(context.Background(), "hello", "persona")
	assert.Empty(t, reply)

	var aiErr *AIError
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, aiMaxAttempts, aiErr.Attempts)
	assert.ErrorIs(t, err, backendErr)
	// retried exactly once
	assert.Equal(t, int32(aiMaxAttempts), completer.calls.Load())
}

func TestAIClient_EmptyResponseRetried(t *testing.T) {
	t.Parallel()
	empty := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return chatResponse("   "), nil
		},
	}
	good := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return chatResponse("real content"), nil
		},
	}
	client, _ := newTestAIClient(t, empty, good)

	reply, err := client.Respond(context.Background(), "hello", "persona")
	require.NoError(t, err)
	assert.Equal(t, "real content", reply)
	assert.Equal(t, int32(1), empty.calls.Load())
	assert.Equal(t, int32(1), good.calls.Load())
}

func TestAIClient_AllEmptySurfacesEmptyError(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, nil
		},
	}
	client, _ := newTestAIClient(t, completer)

	_, err := client.Respond(context.Background(), "hello", "persona")
	assert.ErrorIs(t, err, ErrAIEmptyResponse)
}

func TestAIClient_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{
		fn: func(
			context.Context, openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, errors.New("nope")
		},
	}
	client, _ := newTestAIClient(t, completer)
	client.config.RetryBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Respond(ctx, "hello", "persona")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), completer.calls.Load())
}

func TestAIClient_SeedForwardedWhenSet(t *testing.T) {
	t.Parallel()
	var captured openai.ChatCompletionRequest
	completer := &fakeCompleter{
		fn: func(
			_ context.Context, req openai.ChatCompletionRequest,
		) (openai.ChatCompletionResponse, error) {
			captured = req
			return chatResponse("ok"), nil
		},
	}
	client, _ := newTestAIClient(t, completer)
	client.config.Seed = 1234

	_, err := client.Respond(context.Background(), "hello", "persona")
	require.NoError(t, err)
	require.NotNil(t, captured.Seed)
	assert.Equal(t, 1234, *captured.Seed)
}
