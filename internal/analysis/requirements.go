package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/ai"
	"recruiting-ai-queue/internal/cache"
	"recruiting-ai-queue/internal/models"
)

const requirementsSystemPrompt = `You are an HR specialist writing job requirements.
Respond with a single JSON object and nothing else, using exactly these keys:
{"title": string, "summary": string, "responsibilities": [string], "requiredSkills": [string],
 "preferredSkills": [string], "minYearsExperience": integer, "education": string, "qualifications": [string]}`

// JobRequirementsProcessor drafts structured requirements for a role.
type JobRequirementsProcessor struct {
	ai    ai.Completer
	cache *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewJobRequirementsProcessor builds the processor. c may be nil to disable caching.
func NewJobRequirementsProcessor(completer ai.Completer, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *JobRequirementsProcessor {
	return &JobRequirementsProcessor{ai: completer, cache: c, ttl: ttl, log: logger}
}

func (p *JobRequirementsProcessor) Validate(req JobRequirementsRequest) error {
	return validateRequest(req)
}

func (p *JobRequirementsProcessor) EstimateProcessingTime(req JobRequirementsRequest) time.Duration {
	return scaledEstimate(8*time.Second, len(req.Description), 4000, 30*time.Second)
}

func (p *JobRequirementsProcessor) Process(ctx context.Context, req JobRequirementsRequest) (JobRequirementsResult, error) {
	if err := p.Validate(req); err != nil {
		return JobRequirementsResult{}, err
	}
	fields := struct {
		JobTitle    string   `json:"jobTitle"`
		Department  string   `json:"department"`
		Seniority   string   `json:"seniority"`
		Description string   `json:"description"`
		Skills      []string `json:"skills"`
	}{
		JobTitle:    strings.ToLower(strings.TrimSpace(req.JobTitle)),
		Department:  strings.ToLower(strings.TrimSpace(req.Department)),
		Seniority:   req.Seniority,
		Description: strings.TrimSpace(req.Description),
		Skills:      cache.Unordered(req.Skills),
	}
	return lookaside(ctx, p.cache, string(models.KindJobRequirements), fields, p.ttl, func(ctx context.Context) (JobRequirementsResult, error) {
		return p.generate(ctx, req)
	})
}

func (p *JobRequirementsProcessor) generate(ctx context.Context, req JobRequirementsRequest) (JobRequirementsResult, error) {
	var raw struct {
		Title              any `json:"title"`
		Summary            any `json:"summary"`
		Responsibilities   any `json:"responsibilities"`
		RequiredSkills     any `json:"requiredSkills"`
		PreferredSkills    any `json:"preferredSkills"`
		MinYearsExperience any `json:"minYearsExperience"`
		Education          any `json:"education"`
		Qualifications     any `json:"qualifications"`
	}
	err := askModel(ctx, p.ai, ai.ChatRequest{
		System:      requirementsSystemPrompt,
		User:        requirementsPrompt(req),
		Temperature: 0.4,
		MaxTokens:   1500,
	}, &raw)
	if err != nil {
		return JobRequirementsResult{}, err
	}

	title := text(raw.Title)
	if title == "" {
		title = strings.TrimSpace(req.JobTitle)
	}
	result := JobRequirementsResult{
		Title:              title,
		Summary:            text(raw.Summary),
		Responsibilities:   stringList(raw.Responsibilities),
		RequiredSkills:     stringList(raw.RequiredSkills),
		PreferredSkills:    stringList(raw.PreferredSkills),
		MinYearsExperience: clampScore(raw.MinYearsExperience, 0, 50),
		Education:          text(raw.Education),
		Qualifications:     stringList(raw.Qualifications),
	}
	p.log.Debug().Str("title", result.Title).Int("required_skills", len(result.RequiredSkills)).Msg("job requirements generated")
	return result, nil
}

func requirementsPrompt(req JobRequirementsRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n", strings.TrimSpace(req.JobTitle))
	if req.Department != "" {
		fmt.Fprintf(&b, "Department: %s\n", req.Department)
	}
	if req.Seniority != "" {
		fmt.Fprintf(&b, "Seniority: %s\n", req.Seniority)
	}
	if len(req.Skills) > 0 {
		fmt.Fprintf(&b, "Skills to include: %s\n", strings.Join(req.Skills, ", "))
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		fmt.Fprintf(&b, "\nRole description:\n%s\n", d)
	}
	return b.String()
}
