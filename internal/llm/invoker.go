package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrCredentialsExhausted is returned once every configured credential has
// been rotated away after rate limits. It is terminal for the invoker
// instance; callers surface a "temporarily unavailable, try again" condition.
var ErrCredentialsExhausted = errors.New("all credentials exhausted")

// ErrNoCredentials is returned by NewInvoker when the credential list is empty.
var ErrNoCredentials = errors.New("no credentials configured")

// Chatter is the chat completion call the invoker wraps.
type Chatter interface {
	Chat(ctx context.Context, apiKey string, messages []Message) (string, error)
}

// Invoker makes the generation call resilient: on a rate-limit failure it
// advances to the next credential and retries the same request.
//
// The credential cursor is process-wide and sticky for this instance: a
// rotation triggered by one request affects all in-flight and subsequent
// requests. Concurrent rotations on the same index collapse into one via
// compare-and-swap — the worst case is a single wasted retry against a
// credential that was just rotated away.
type Invoker struct {
	client      Chatter
	credentials []string
	cursor      atomic.Int64
	logger      *slog.Logger
}

// NewInvoker creates an Invoker over the ordered credential list. Each test
// or component instantiates its own invoker; there is no package-level
// cursor.
func NewInvoker(client Chatter, credentials []string) (*Invoker, error) {
	if len(credentials) == 0 {
		return nil, ErrNoCredentials
	}
	return &Invoker{
		client:      client,
		credentials: credentials,
		logger:      slog.Default(),
	}, nil
}

// Generate produces a reply for the given messages.
//
// Rate-limit failures rotate the credential and retry transparently until the
// list is exhausted, then fail with ErrCredentialsExhausted. A transport
// failure is retried once; a timeout or a non-rate-limit HTTP failure
// surfaces immediately as *UpstreamError.
func (iv *Invoker) Generate(ctx context.Context, messages []Message) (string, error) {
	transportRetried := false

	for {
		idx := iv.cursor.Load()
		if idx >= int64(len(iv.credentials)) {
			return "", ErrCredentialsExhausted
		}

		reply, err := iv.client.Chat(ctx, iv.credentials[idx], messages)
		if err == nil {
			return reply, nil
		}

		if errors.Is(err, ErrRateLimited) {
			iv.cursor.CompareAndSwap(idx, idx+1)
			iv.logger.Warn("credential rate limited, rotating",
				"credential_index", idx,
				"remaining", int64(len(iv.credentials))-idx-1,
			)
			continue
		}

		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			// Timeout or cancellation: never retried. The deadline check
			// catches the client's own per-request timeout, which expires
			// without touching the caller's context.
			return "", err
		}

		var ue *UpstreamError
		if errors.As(err, &ue) && ue.Status == 0 && !transportRetried {
			// Transient transport failure: one retry on the same credential.
			transportRetried = true
			iv.logger.Warn("transient upstream error, retrying once", "error", err)
			continue
		}

		return "", fmt.Errorf("generation failed: %w", err)
	}
}

// Exhausted reports whether the cursor has walked past the last credential.
func (iv *Invoker) Exhausted() bool {
	return iv.cursor.Load() >= int64(len(iv.credentials))
}

// CredentialIndex returns the current cursor position, for status reporting.
func (iv *Invoker) CredentialIndex() int {
	return int(iv.cursor.Load())
}
