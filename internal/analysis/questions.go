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

const (
	defaultQuestionCount = 5
	maxQuestionCount     = 20
)

const questionsSystemPrompt = `You are an interviewer preparing questions for a role.
Respond with a single JSON object and nothing else, using exactly this shape:
{"questions": [{"question": string, "type": one of "technical", "behavioral", "situational", "cultural",
 "difficulty": integer 1-5, "skill": string, "expectedAnswer": string}]}`

// QuestionGenerationProcessor generates interview questions for a role.
type QuestionGenerationProcessor struct {
	ai    ai.Completer
	cache *cache.Cache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewQuestionGenerationProcessor builds the processor. c may be nil to disable caching.
func NewQuestionGenerationProcessor(completer ai.Completer, c *cache.Cache, ttl time.Duration, logger zerolog.Logger) *QuestionGenerationProcessor {
	return &QuestionGenerationProcessor{ai: completer, cache: c, ttl: ttl, log: logger}
}

func (p *QuestionGenerationProcessor) Validate(req QuestionGenerationRequest) error {
	return validateRequest(req)
}

func (p *QuestionGenerationProcessor) EstimateProcessingTime(req QuestionGenerationRequest) time.Duration {
	return 5*time.Second + time.Duration(questionCount(req.Count))*time.Second
}

func (p *QuestionGenerationProcessor) Process(ctx context.Context, req QuestionGenerationRequest) (QuestionSet, error) {
	if err := p.Validate(req); err != nil {
		return QuestionSet{}, err
	}
	count := questionCount(req.Count)
	fields := struct {
		JobTitle        string   `json:"jobTitle"`
		JobRequirements string   `json:"jobRequirements"`
		Skills          []string `json:"skills"`
		Count           int      `json:"count"`
		Difficulty      string   `json:"difficulty"`
		Types           []string `json:"types"`
	}{
		JobTitle:        strings.ToLower(strings.TrimSpace(req.JobTitle)),
		JobRequirements: strings.TrimSpace(req.JobRequirements),
		Skills:          cache.Unordered(req.Skills),
		Count:           count,
		Difficulty:      req.Difficulty,
		Types:           cache.Unordered(req.Types),
	}
	set, err := lookaside(ctx, p.cache, string(models.KindQuestionGeneration), fields, p.ttl, func(ctx context.Context) (QuestionSet, error) {
		return p.generate(ctx, req, count)
	})
	if err != nil {
		return QuestionSet{}, err
	}
	// The key ignores title casing; echo the title as this caller wrote it.
	set.JobTitle = strings.TrimSpace(req.JobTitle)
	return set, nil
}

func (p *QuestionGenerationProcessor) generate(ctx context.Context, req QuestionGenerationRequest, count int) (QuestionSet, error) {
	var raw struct {
		Questions []struct {
			Question       any `json:"question"`
			Type           any `json:"type"`
			Difficulty     any `json:"difficulty"`
			Skill          any `json:"skill"`
			ExpectedAnswer any `json:"expectedAnswer"`
		} `json:"questions"`
	}
	err := askModel(ctx, p.ai, ai.ChatRequest{
		System:      questionsSystemPrompt,
		User:        questionsPrompt(req, count),
		Temperature: 0.7,
		MaxTokens:   2500,
	}, &raw)
	if err != nil {
		return QuestionSet{}, err
	}

	set := QuestionSet{JobTitle: strings.TrimSpace(req.JobTitle), Questions: []Question{}}
	for _, q := range raw.Questions {
		question := text(q.Question)
		if question == "" {
			continue
		}
		set.Questions = append(set.Questions, Question{
			Question:       question,
			Type:           normalizeQuestionType(text(q.Type)),
			Difficulty:     normalizeDifficulty(q.Difficulty),
			Skill:          text(q.Skill),
			ExpectedAnswer: text(q.ExpectedAnswer),
		})
		if len(set.Questions) == count {
			break
		}
	}
	p.log.Debug().Int("requested", count).Int("generated", len(set.Questions)).Msg("questions generated")
	return set, nil
}

// questionCount applies the default and clamps the requested number of questions to 1-20.
func questionCount(n int) int {
	if n == 0 {
		return defaultQuestionCount
	}
	return clampInt(n, 1, maxQuestionCount)
}

func normalizeQuestionType(s string) string {
	switch t := strings.ToLower(s); t {
	case "technical", "behavioral", "situational", "cultural":
		return t
	case "behavioural":
		return "behavioral"
	default:
		return "technical"
	}
}

func questionsPrompt(req QuestionGenerationRequest, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d interview questions.\nRole: %s\n", count, strings.TrimSpace(req.JobTitle))
	if r := strings.TrimSpace(req.JobRequirements); r != "" {
		fmt.Fprintf(&b, "Job requirements:\n%s\n", r)
	}
	if len(req.Skills) > 0 {
		fmt.Fprintf(&b, "Focus skills: %s\n", strings.Join(req.Skills, ", "))
	}
	if req.Difficulty != "" {
		fmt.Fprintf(&b, "Target difficulty: %s\n", req.Difficulty)
	}
	if len(req.Types) > 0 {
		fmt.Fprintf(&b, "Question types: %s\n", strings.Join(req.Types, ", "))
	}
	return b.String()
}
