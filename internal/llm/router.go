package llm

import (
	"context"
	"time"

	"github.com/HanTheDev/genie-analytics/internal/classifier"
	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

// Completion is a routed answer. Tier and Model name the profile that actually
// answered, which is the simple tier when FellBack is set.
type Completion struct {
	Text          string                `json:"text"`
	Tier          models.ComplexityTier `json:"tier"`
	Model         string                `json:"model"`
	TokensUsed    int                   `json:"tokens_used"`
	EstimatedCost float64               `json:"estimated_cost"`
	// CostReliable is false when the provider reported no usage and EstimatedCost is 0.
	CostReliable bool `json:"cost_reliable"`
	FellBack     bool `json:"fell_back"`
}

// Streaming is a routed stream whose setup succeeded.
type Streaming struct {
	Chunks   <-chan Chunk
	Tier     models.ComplexityTier
	Model    string
	FellBack bool
}

type Router struct {
	provider   Provider
	classifier *classifier.Classifier
}

// NewRouter routes through provider using the classifier's profile table.
// A nil classifier uses the default rules and profiles.
func NewRouter(provider Provider, c *classifier.Classifier) *Router {
	if c == nil {
		c = classifier.New(classifier.DefaultProfiles(), nil)
	}
	return &Router{provider: provider, classifier: c}
}

func (r *Router) Profiles() models.ProfileSet {
	return r.classifier.Profiles()
}

func (r *Router) Classify(question string) models.ClassificationResult {
	return r.classifier.Classify(question)
}

// Complete classifies question and completes with the matching profile. An
// empty user prompt sends the question itself.
func (r *Router) Complete(ctx context.Context, question, system, user string) (*Completion, error) {
	if user == "" {
		user = question
	}
	return r.CompleteClassified(ctx, r.classifier.Classify(question), system, user)
}

// CompleteClassified completes with cls.Profile. On failure it retries once on
// the simple profile, whatever the original tier.
func (r *Router) CompleteClassified(ctx context.Context, cls models.ClassificationResult, system, user string) (*Completion, error) {
	resp, err := r.call(ctx, cls.Profile, system, user)
	if err == nil {
		return r.completion(cls.Tier, cls.Profile, resp, false), nil
	}

	simple := r.classifier.Profiles().Simple
	logging.Ctx(ctx).Warn().
		Err(err).
		Str("tier", string(cls.Tier)).
		Str("model", cls.Profile.ModelID).
		Str("fallback_model", simple.ModelID).
		Msg("Completion failed, falling back to simple profile")

	resp, ferr := r.call(ctx, simple, system, user)
	if ferr != nil {
		return nil, &ProviderUnavailableError{
			Model:         cls.Profile.ModelID,
			FallbackModel: simple.ModelID,
			Primary:       err,
			Fallback:      ferr,
		}
	}
	return r.completion(models.TierSimple, simple, resp, true), nil
}

// Stream opens a completion stream with the same fallback rule as
// CompleteClassified, applied to stream setup.
func (r *Router) Stream(ctx context.Context, cls models.ClassificationResult, system, user string) (*Streaming, error) {
	chunks, err := r.provider.Stream(ctx, request(cls.Profile, system, user))
	if err == nil {
		metrics.CompletionRequests.WithLabelValues(cls.Profile.ModelID, "stream").Inc()
		return &Streaming{Chunks: chunks, Tier: cls.Tier, Model: cls.Profile.ModelID}, nil
	}
	metrics.CompletionRequests.WithLabelValues(cls.Profile.ModelID, "error").Inc()

	simple := r.classifier.Profiles().Simple
	logging.Ctx(ctx).Warn().Err(err).Str("model", cls.Profile.ModelID).Msg("Stream setup failed, falling back to simple profile")

	chunks, ferr := r.provider.Stream(ctx, request(simple, system, user))
	if ferr != nil {
		metrics.CompletionRequests.WithLabelValues(simple.ModelID, "error").Inc()
		return nil, &ProviderUnavailableError{
			Model:         cls.Profile.ModelID,
			FallbackModel: simple.ModelID,
			Primary:       err,
			Fallback:      ferr,
		}
	}
	metrics.CompletionRequests.WithLabelValues(simple.ModelID, "stream").Inc()
	return &Streaming{Chunks: chunks, Tier: models.TierSimple, Model: simple.ModelID, FellBack: true}, nil
}

func (r *Router) call(ctx context.Context, profile models.ExecutionProfile, system, user string) (*Response, error) {
	start := time.Now()
	resp, err := r.provider.Complete(ctx, request(profile, system, user))
	if err != nil {
		metrics.CompletionRequests.WithLabelValues(profile.ModelID, "error").Inc()
		return nil, err
	}
	metrics.CompletionRequests.WithLabelValues(profile.ModelID, "success").Inc()
	logging.Ctx(ctx).Debug().
		Str("model", profile.ModelID).
		Dur("latency", time.Since(start)).
		Msg("Completion finished")
	return resp, nil
}

func (r *Router) completion(tier models.ComplexityTier, profile models.ExecutionProfile, resp *Response, fellBack bool) *Completion {
	c := &Completion{
		Text:     resp.Text,
		Tier:     tier,
		Model:    profile.ModelID,
		FellBack: fellBack,
	}
	if resp.Usage != nil {
		c.TokensUsed = resp.Usage.TotalTokens
		c.EstimatedCost = float64(resp.Usage.TotalTokens) * profile.CostPerToken
		c.CostReliable = true
		metrics.CompletionTokens.WithLabelValues(profile.ModelID).Add(float64(c.TokensUsed))
		metrics.CompletionCost.WithLabelValues(string(tier)).Add(c.EstimatedCost)
	}
	return c
}

func request(profile models.ExecutionProfile, system, user string) Request {
	return Request{
		Model:       profile.ModelID,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
		Messages:    messages(system, user),
	}
}
