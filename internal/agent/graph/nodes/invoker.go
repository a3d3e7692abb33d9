package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sethvargo/go-retry"

	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const (
	defaultLLMTimeout = 60 * time.Second
	defaultLLMBackoff = 500 * time.Millisecond
)

// Call identifies an LLM call for logs, metrics and cost accounting.
type Call struct {
	Node  string
	Model string
}

// Invoker bounds model calls with a timeout and exponential retries.
// Failures come back as errx external-service errors.
type Invoker struct {
	timeout time.Duration
	retries uint64
	backoff time.Duration
}

func NewInvoker(cfg model.LLMCallConfig) *Invoker {
	inv := &Invoker{timeout: cfg.Timeout, retries: cfg.Retries, backoff: cfg.Backoff}
	if inv.timeout <= 0 {
		inv.timeout = defaultLLMTimeout
	}
	if inv.backoff <= 0 {
		inv.backoff = defaultLLMBackoff
	}
	return inv
}

// Timeout is the per-call deadline; streaming callers apply it to the whole stream.
func (i *Invoker) Timeout() time.Duration { return i.timeout }

func (i *Invoker) backoffPolicy() retry.Backoff {
	return retry.WithMaxRetries(i.retries, retry.NewExponential(i.backoff))
}

// Generate runs a non-streaming completion.
func (i *Invoker) Generate(ctx context.Context, cm einomodel.BaseChatModel, call Call, msgs []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	started := time.Now()
	ctx = withModelRunInfo(ctx, cm, call)

	var out *schema.Message
	err := retry.Do(ctx, i.backoffPolicy(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()

		msg, callErr := cm.Generate(callCtx, msgs, opts...)
		if callErr != nil {
			return retryable(ctx, callErr)
		}
		if msg == nil {
			return retry.RetryableError(errors.New("empty completion"))
		}
		out = msg
		return nil
	})

	metrics.LLMDuration.WithLabelValues(call.Node, call.Model).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(call.Node, call.Model, "error").Inc()
		logx.Warn().Err(err).Str("node", call.Node).Str("model", call.Model).Msg("LLM call failed")
		return nil, errx.ExternalService("llm "+call.Node, err)
	}

	metrics.LLMCallsTotal.WithLabelValues(call.Node, call.Model, "ok").Inc()
	RecordUsage(ctx, call, out)
	return out, nil
}

// Stream opens a streaming completion. Only opening the stream is retried.
// The caller owns the deadline of the returned stream.
func (i *Invoker) Stream(ctx context.Context, cm einomodel.BaseChatModel, call Call, msgs []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	ctx = withModelRunInfo(ctx, cm, call)
	var sr *schema.StreamReader[*schema.Message]
	err := retry.Do(ctx, i.backoffPolicy(), func(ctx context.Context) error {
		s, callErr := cm.Stream(ctx, msgs, opts...)
		if callErr != nil {
			return retryable(ctx, callErr)
		}
		sr = s
		return nil
	})
	if err != nil {
		metrics.LLMCallsTotal.WithLabelValues(call.Node, call.Model, "error").Inc()
		logx.Warn().Err(err).Str("node", call.Node).Str("model", call.Model).Msg("LLM stream failed to open")
		return nil, errx.ExternalService("llm "+call.Node, err)
	}
	metrics.LLMCallsTotal.WithLabelValues(call.Node, call.Model, "ok").Inc()
	return sr, nil
}

// withModelRunInfo names the call for model callbacks inherited from the
// calling graph node.
func withModelRunInfo(ctx context.Context, cm einomodel.BaseChatModel, call Call) context.Context {
	typ, _ := components.GetType(cm)
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      call.Node,
		Type:      typ,
		Component: components.ComponentOfChatModel,
	})
}

// retryable marks err for another attempt unless the caller gave up.
func retryable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return retry.RetryableError(err)
}
