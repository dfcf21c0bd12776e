package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/jsonrepair"
	"github.com/iyulab/actor-profiler/internal/llm"
	"github.com/iyulab/actor-profiler/internal/profile"
)

// Recovery tiers, in the order they are tried.
const (
	tierFirst            = "first_attempt"
	tierRetry            = "retry"
	tierRepair           = "mechanical_repair"
	tierCompletion       = "model_completion"
	tierCompletionRepair = "completion_repair"
	tierFailed           = "failed"
)

func tierDescription(tier string) string {
	switch tier {
	case tierFirst:
		return "parsed on first attempt"
	case tierRetry:
		return "parsed after retry with a larger output budget"
	case tierRepair:
		return "truncated output recovered by mechanical repair"
	case tierCompletion:
		return "truncated output recovered by model-assisted completion"
	case tierCompletionRepair:
		return "truncated output recovered by model-assisted completion plus mechanical repair"
	default:
		return tier
	}
}

// structure runs the structuring call and walks the recovery ladder:
// retry with a larger budget, mechanical repair, model completion, then
// mechanical repair of the completion.
func (g *Generator) structure(ctx context.Context, prompt string) (profile.Record, string, error) {
	req := llm.Request{
		System:      StructureSystemPrompt,
		Prompt:      prompt,
		Schema:      ProfileSchema,
		MaxTokens:   g.settings.StructureMaxTokens,
		Temperature: g.settings.Temperature,
	}

	var last string
	var lastErr error

	resp, err := g.call(ctx, "structure", req)
	if err == nil {
		last = resp.Text
		rec, perr := parseRecord(resp.Text)
		if perr == nil {
			return g.recovered(rec, tierFirst)
		}
		lastErr = perr
	} else {
		lastErr = err
	}
	g.logger.Warn("structuring attempt failed, retrying",
		zap.Error(lastErr), zap.Bool("truncated", resp.Truncated))

	req.MaxTokens = g.settings.RetryMaxTokens
	resp, err = g.call(ctx, "structure_retry", req)
	if err == nil {
		last = resp.Text
		rec, perr := parseRecord(resp.Text)
		if perr == nil {
			return g.recovered(rec, tierRetry)
		}
		lastErr = perr
	} else {
		lastErr = err
	}

	if last == "" {
		// Neither call produced any text to recover from.
		g.metrics.CountRepairTier(tierFailed)
		return profile.Record{}, tierFailed, fmt.Errorf("structure: %w", lastErr)
	}

	repaired := jsonrepair.Repair(cleanJSONResponse(last))
	if rec, perr := parseRecord(repaired); perr == nil {
		return g.recovered(rec, tierRepair)
	}
	g.logger.Warn("mechanical repair failed, asking the model to complete the output")

	resp, err = g.call(ctx, "completion", llm.Request{
		System:      CompletionSystemPrompt,
		Prompt:      BuildCompletionPrompt(last),
		Schema:      ProfileSchema,
		MaxTokens:   g.settings.RetryMaxTokens,
		Temperature: 0,
	})
	if err == nil {
		if rec, perr := parseRecord(resp.Text); perr == nil {
			return g.recovered(rec, tierCompletion)
		}
		if rec, perr := parseRecord(jsonrepair.Repair(cleanJSONResponse(resp.Text))); perr == nil {
			return g.recovered(rec, tierCompletionRepair)
		}
	} else {
		g.logger.Warn("completion call failed", zap.Error(err))
	}

	g.metrics.CountRepairTier(tierFailed)
	return profile.Record{}, tierFailed, fmt.Errorf("%w after retry, repair and completion", ErrUnparseable)
}

func (g *Generator) recovered(rec profile.Record, tier string) (profile.Record, string, error) {
	g.metrics.CountRepairTier(tier)
	if tier != tierFirst {
		g.logger.Info("structured output recovered", zap.String("tier", tier))
	}
	return rec, tier, nil
}
