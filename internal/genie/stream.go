package genie

import (
	"context"
	"fmt"
	"strings"

	"github.com/HanTheDev/genie-analytics/internal/llm"
	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

// AnswerStream is a narrated answer delivered in chunks. Chunks follows the
// llm.Chunk contract: a final Done or Err chunk, then close.
type AnswerStream struct {
	Chunks   <-chan llm.Chunk
	Tier     models.ComplexityTier
	Model    string
	FellBack bool
}

// StreamAnswer narrates an answer from domain knowledge and recent history
// without running SQL. The finished text is added to the user's history.
func (e *Engine) StreamAnswer(ctx context.Context, req QueryRequest) (*AnswerStream, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	ctx = logging.ContextWithTenant(ctx, req.Tenant.TenantID)
	question := contextualQuestion(req)

	history := req.History
	if history == nil {
		history = e.history.For(req.Tenant)
	}
	cls := e.router.Classify(question)

	upstream, err := e.router.Stream(ctx, cls, e.catalog.analystSystemPrompt(), textualUserPrompt(question, history.Recent(followUpTurns)))
	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var text strings.Builder
		for c := range upstream.Chunks {
			text.WriteString(c.Text)
			select {
			case out <- c:
			case <-ctx.Done():
				// The provider closes its channel once it sees the same cancellation.
				for range upstream.Chunks {
				}
				return
			}
			switch {
			case c.Done:
				history.Add(req.Question, text.String(), e.now())
				metrics.GenieQueries.WithLabelValues(string(models.StateTextualOnly), string(upstream.Tier)).Inc()
			case c.Err != nil:
				logging.Ctx(ctx).Warn().Err(c.Err).Str("model", upstream.Model).Msg("Answer stream broke")
			}
		}
	}()

	return &AnswerStream{
		Chunks:   out,
		Tier:     upstream.Tier,
		Model:    upstream.Model,
		FellBack: upstream.FellBack,
	}, nil
}
