// Package extraction turns transcripts into validated report fields with
// a language model, and merges follow-up transcripts into partial data.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
	"github.com/cooldog631-ai/aim-bot/internal/llm"
	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/metrics"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

const gatewayName = "extraction"

// Result is the outcome of one extraction or merge. Fields only ever holds
// keys from the required field set. A non-empty Error marks a malformed
// model reply; such a result is incomplete with every field missing.
type Result struct {
	Complete bool
	Fields   report.Fields
	Missing  []string
	Error    string
}

// Malformed reports whether the model reply could not be used.
func (r Result) Malformed() bool { return r.Error != "" }

// Opts configures a Gateway.
type Opts struct {
	Completer llm.Completer
	Fields    report.FieldSet
	Policy    gateway.RetryPolicy
	// JSONMode asks the backend for a JSON object response.
	JSONMode    bool
	Temperature float32
	Log         *logger.Logger
	Metrics     *metrics.Metrics
	// Now supplies "today" for relative dates. Defaults to time.Now.
	Now func() time.Time
}

// Gateway runs extraction against a Completer.
type Gateway struct {
	completer   llm.Completer
	fields      report.FieldSet
	policy      gateway.RetryPolicy
	jsonMode    bool
	temperature float32
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// New creates a Gateway.
func New(opts Opts) (*Gateway, error) {
	if opts.Completer == nil {
		return nil, fmt.Errorf("extraction: completer is required")
	}
	if opts.Fields.Len() == 0 {
		return nil, fmt.Errorf("extraction: field set is required")
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = gateway.DefaultRetryPolicy()
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Gateway{
		completer:   opts.Completer,
		fields:      opts.Fields,
		policy:      opts.Policy,
		jsonMode:    opts.JSONMode,
		temperature: opts.Temperature,
		log:         opts.Log.With("gateway", gatewayName, "backend", opts.Completer.Name()),
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	userHook := g.policy.OnRetry
	g.policy.OnRetry = func(op string, attempt int, wait time.Duration, err error) {
		g.metrics.GatewayRetry(gatewayName)
		g.log.Warn("extraction: retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
		if userHook != nil {
			userHook(op, attempt, wait, err)
		}
	}
	return g, nil
}

// FieldSet returns the required fields this gateway validates against.
func (g *Gateway) FieldSet() report.FieldSet { return g.fields }

// Extract parses a first transcript. The returned error is a gateway
// failure; a malformed reply is reported through Result.Error instead.
func (g *Gateway) Extract(ctx context.Context, transcript string) (Result, error) {
	fields, err := g.call(ctx, "extract", extractPrompt(transcript))
	if err != nil {
		return Result{}, err
	}
	if fields == nil {
		return g.malformed("unparsable model output"), nil
	}
	return g.result(fields), nil
}

// Merge folds a new transcript into partial. Each non-empty value the
// model finds in transcript overrides the prior one; everything else in
// partial is kept.
func (g *Gateway) Merge(ctx context.Context, partial report.Fields, transcript string) (Result, error) {
	fields, err := g.call(ctx, "merge", mergePrompt(partial, g.fields, transcript))
	if err != nil {
		return Result{}, err
	}
	if fields == nil {
		return g.malformed("unparsable model output"), nil
	}
	return g.result(report.Merge(report.Normalize(g.fields, partial), fields)), nil
}

func (g *Gateway) result(f report.Fields) Result {
	missing := g.fields.Missing(f)
	return Result{Complete: len(missing) == 0, Fields: f, Missing: missing}
}

func (g *Gateway) malformed(reason string) Result {
	g.metrics.Malformed()
	return Result{Complete: false, Fields: report.Fields{}, Missing: g.fields.Names(), Error: reason}
}

// call runs the completion with retries and parses the reply. It returns
// nil fields (and nil error) when the reply is malformed.
func (g *Gateway) call(ctx context.Context, op, user string) (report.Fields, error) {
	started := time.Now()
	req := llm.Request{
		System:      systemPrompt(g.fields, g.now()),
		User:        user,
		JSON:        g.jsonMode,
		MaxTokens:   512,
		Temperature: g.temperature,
	}
	reply, err := gateway.Do(ctx, g.policy, op, func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, req)
	})
	if err != nil {
		outcome := "transient"
		if gateway.IsPermanent(err) {
			outcome = "permanent"
		}
		g.metrics.GatewayCall(gatewayName, outcome, started)
		return nil, err
	}
	g.metrics.GatewayCall(gatewayName, "ok", started)

	raw, perr := parseReply(reply)
	if perr != nil {
		g.log.Warn("extraction: malformed reply", "op", op, "error", perr, "reply_len", len(reply))
		return nil, nil
	}
	return report.Normalize(g.fields, raw), nil
}

// parseReply decodes {"extracted_data": {...}} or a flat object into
// string values. Numbers and booleans are stringified; nulls are skipped.
func parseReply(reply string) (map[string]string, error) {
	obj := findJSONObject(reply)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &top); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	body := top
	if inner, ok := top["extracted_data"]; ok {
		body = nil
		if err := json.Unmarshal(inner, &body); err != nil || body == nil {
			return nil, fmt.Errorf("extracted_data is not an object")
		}
	}

	out := make(map[string]string, len(body))
	for k, v := range body {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		switch t := val.(type) {
		case nil:
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			// Nested values are not field values; drop them.
		}
	}
	for k, v := range out {
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}
