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

const interviewSystemPrompt = `You are a senior interviewer assessing an interview transcript for a role.
Respond with a single JSON object and nothing else, using exactly these keys:
{"overallScore": integer 0-100, "communication": integer 1-10, "technical": integer 1-10,
 "culturalFit": integer 1-10, "problemSolving": integer 1-10, "strengths": [string], "concerns": [string],
 "summary": string, "recommendation": one of "strong_yes", "yes", "maybe", "no"}`

// InterviewAnalysisProcessor rates a candidate from an interview transcript.
type InterviewAnalysisProcessor struct {
	ai    ai.Completer
	cache *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewInterviewAnalysisProcessor builds the processor. c may be nil to disable caching.
func NewInterviewAnalysisProcessor(completer ai.Completer, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *InterviewAnalysisProcessor {
	return &InterviewAnalysisProcessor{ai: completer, cache: c, ttl: ttl, log: logger}
}

func (p *InterviewAnalysisProcessor) Validate(req InterviewAnalysisRequest) error {
	return validateRequest(req)
}

func (p *InterviewAnalysisProcessor) EstimateProcessingTime(req InterviewAnalysisRequest) time.Duration {
	return scaledEstimate(15*time.Second, len(req.Transcript), 3000, 90*time.Second)
}

func (p *InterviewAnalysisProcessor) Process(ctx context.Context, req InterviewAnalysisRequest) (InterviewAnalysisResult, error) {
	if err := p.Validate(req); err != nil {
		return InterviewAnalysisResult{}, err
	}
	// Question order is part of the interview, so it is kept as given.
	fields := struct {
		Transcript      string   `json:"transcript"`
		JobTitle        string   `json:"jobTitle"`
		JobRequirements string   `json:"jobRequirements"`
		Questions       []string `json:"questions"`
		CandidateName   string   `json:"candidateName"`
	}{
		Transcript:      strings.TrimSpace(req.Transcript),
		JobTitle:        strings.ToLower(strings.TrimSpace(req.JobTitle)),
		JobRequirements: strings.TrimSpace(req.JobRequirements),
		Questions:       req.Questions,
		CandidateName:   strings.TrimSpace(req.CandidateName),
	}
	return lookaside(ctx, p.cache, string(models.KindInterviewAnalysis), fields, p.ttl, func(ctx context.Context) (InterviewAnalysisResult, error) {
		return p.analyze(ctx, req)
	})
}

func (p *InterviewAnalysisProcessor) analyze(ctx context.Context, req InterviewAnalysisRequest) (InterviewAnalysisResult, error) {
	var raw struct {
		OverallScore   any `json:"overallScore"`
		Communication  any `json:"communication"`
		Technical      any `json:"technical"`
		CulturalFit    any `json:"culturalFit"`
		ProblemSolving any `json:"problemSolving"`
		Strengths      any `json:"strengths"`
		Concerns       any `json:"concerns"`
		Summary        any `json:"summary"`
		Recommendation any `json:"recommendation"`
	}
	err := askModel(ctx, p.ai, ai.ChatRequest{
		System:      interviewSystemPrompt,
		User:        interviewPrompt(req),
		Temperature: 0.3,
		MaxTokens:   2000,
	}, &raw)
	if err != nil {
		return InterviewAnalysisResult{}, err
	}

	result := InterviewAnalysisResult{
		OverallScore:   clampScore(raw.OverallScore, 0, 100),
		Communication:  clampScore(raw.Communication, 1, 10),
		Technical:      clampScore(raw.Technical, 1, 10),
		CulturalFit:    clampScore(raw.CulturalFit, 1, 10),
		ProblemSolving: clampScore(raw.ProblemSolving, 1, 10),
		Strengths:      stringList(raw.Strengths),
		Concerns:       stringList(raw.Concerns),
		Summary:        text(raw.Summary),
		Recommendation: normalizeRecommendation(text(raw.Recommendation)),
	}
	p.log.Debug().Int("overall_score", result.OverallScore).Msg("interview analyzed")
	return result, nil
}

func interviewPrompt(req InterviewAnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", strings.TrimSpace(req.JobTitle))
	if r := strings.TrimSpace(req.JobRequirements); r != "" {
		fmt.Fprintf(&b, "\nJob requirements:\n%s\n", r)
	}
	if len(req.Questions) > 0 {
		b.WriteString("\nQuestions asked:\n")
		for i, q := range req.Questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if req.CandidateName != "" {
		fmt.Fprintf(&b, "\nCandidate: %s\n", req.CandidateName)
	}
	fmt.Fprintf(&b, "\nTranscript:\n%s\n", strings.TrimSpace(req.Transcript))
	return b.String()
}
