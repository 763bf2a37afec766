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

const cvSystemPrompt = `You are an experienced technical recruiter. Compare the candidate CV with the job requirements.
Respond with a single JSON object and nothing else, using exactly these keys:
{"score": integer 0-100, "experienceMatch": integer 0-100, "skillsMatch": integer 0-100,
 "matchedSkills": [string], "missingSkills": [string], "strengths": [string], "weaknesses": [string],
 "summary": string, "recommendation": one of "strong_yes", "yes", "maybe", "no"}`

// CVAnalysisProcessor scores a CV against job requirements.
type CVAnalysisProcessor struct {
	ai    ai.Completer
	cache *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCVAnalysisProcessor builds the processor. c may be nil to disable caching.
func NewCVAnalysisProcessor(completer ai.Completer, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *CVAnalysisProcessor {
	return &CVAnalysisProcessor{ai: completer, cache: c, ttl: ttl, log: logger}
}

func (p *CVAnalysisProcessor) Validate(req CVAnalysisRequest) error {
	return validateRequest(req)
}

func (p *CVAnalysisProcessor) EstimateProcessingTime(req CVAnalysisRequest) time.Duration {
	return scaledEstimate(10*time.Second, len(req.CVText)+len(req.JobRequirements), 4000, time.Minute)
}

func (p *CVAnalysisProcessor) Process(ctx context.Context, req CVAnalysisRequest) (CVAnalysisResult, error) {
	if err := p.Validate(req); err != nil {
		return CVAnalysisResult{}, err
	}
	fields := struct {
		CVText          string   `json:"cvText"`
		JobRequirements string   `json:"jobRequirements"`
		JobTitle        string   `json:"jobTitle"`
		UserID          string   `json:"userId"`
		Skills          []string `json:"skills"`
	}{
		CVText:          strings.TrimSpace(req.CVText),
		JobRequirements: strings.TrimSpace(req.JobRequirements),
		JobTitle:        strings.ToLower(strings.TrimSpace(req.JobTitle)),
		UserID:          req.UserID,
		Skills:          cache.Unordered(req.Skills),
	}
	return lookaside(ctx, p.cache, string(models.KindCVAnalysis), fields, p.ttl, func(ctx context.Context) (CVAnalysisResult, error) {
		return p.analyze(ctx, req)
	})
}

func (p *CVAnalysisProcessor) analyze(ctx context.Context, req CVAnalysisRequest) (CVAnalysisResult, error) {
	var raw struct {
		Score           any `json:"score"`
		ExperienceMatch any `json:"experienceMatch"`
		SkillsMatch     any `json:"skillsMatch"`
		MatchedSkills   any `json:"matchedSkills"`
		MissingSkills   any `json:"missingSkills"`
		Strengths       any `json:"strengths"`
		Weaknesses      any `json:"weaknesses"`
		Summary         any `json:"summary"`
		Recommendation  any `json:"recommendation"`
	}
	err := askModel(ctx, p.ai, ai.ChatRequest{
		System:      cvSystemPrompt,
		User:        cvPrompt(req),
		Temperature: 0.3,
		MaxTokens:   1500,
	}, &raw)
	if err != nil {
		return CVAnalysisResult{}, err
	}

	result := CVAnalysisResult{
		Score:           clampScore(raw.Score, 0, 100),
		ExperienceMatch: clampScore(raw.ExperienceMatch, 0, 100),
		SkillsMatch:     clampScore(raw.SkillsMatch, 0, 100),
		MatchedSkills:   stringList(raw.MatchedSkills),
		MissingSkills:   stringList(raw.MissingSkills),
		Strengths:       stringList(raw.Strengths),
		Weaknesses:      stringList(raw.Weaknesses),
		Summary:         text(raw.Summary),
		Recommendation:  normalizeRecommendation(text(raw.Recommendation)),
	}
	p.log.Debug().Int("score", result.Score).Msg("cv analyzed")
	return result, nil
}

func cvPrompt(req CVAnalysisRequest) string {
	var b strings.Builder
	if req.JobTitle != "" {
		fmt.Fprintf(&b, "Role: %s\n\n", req.JobTitle)
	}
	fmt.Fprintf(&b, "Job requirements:\n%s\n\n", strings.TrimSpace(req.JobRequirements))
	if len(req.Skills) > 0 {
		fmt.Fprintf(&b, "Key skills: %s\n\n", strings.Join(req.Skills, ", "))
	}
	fmt.Fprintf(&b, "Candidate CV:\n%s\n", strings.TrimSpace(req.CVText))
	return b.String()
}

var recommendations = map[string]string{
	"strong_yes": "strong_yes",
	"strong yes": "strong_yes",
	"yes":        "yes",
	"hire":       "yes",
	"maybe":      "maybe",
	"no":         "no",
	"no_hire":    "no",
	"no hire":    "no",
}

// normalizeRecommendation maps free-form model verdicts onto strong_yes, yes, maybe or no.
func normalizeRecommendation(s string) string {
	if r, ok := recommendations[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r
	}
	return "maybe"
}
