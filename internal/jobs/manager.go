package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"recruiting-ai-queue/internal/analysis"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/worker"
)

// Queue is the kind-independent view of a Service.
type Queue interface {
	Kind() models.Kind
	Status(ctx context.Context, jobID string) (*models.Job, error)
	Progress(ctx context.Context, jobID string) (int, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Job, error)
	CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int, error)
	Start()
	Shutdown(ctx context.Context) error
}

// Processors supplies one processor per job kind.
type Processors struct {
	CVAnalysis         Processor[analysis.CVAnalysisRequest, analysis.CVAnalysisResult]
	JobRequirements    Processor[analysis.JobRequirementsRequest, analysis.JobRequirementsResult]
	InterviewAnalysis  Processor[analysis.InterviewAnalysisRequest, analysis.InterviewAnalysisResult]
	QuestionGeneration Processor[analysis.QuestionGenerationRequest, analysis.QuestionSet]
}

// Manager owns the queue of every job kind and the Redis connection they share.
type Manager struct {
	client   redis.UniversalClient
	recorder worker.Recorder
	log      zerolog.Logger

	CVAnalysis         *Service[analysis.CVAnalysisRequest, analysis.CVAnalysisResult]
	JobRequirements    *Service[analysis.JobRequirementsRequest, analysis.JobRequirementsResult]
	InterviewAnalysis  *Service[analysis.InterviewAnalysisRequest, analysis.InterviewAnalysisResult]
	QuestionGeneration *Service[analysis.QuestionGenerationRequest, analysis.QuestionSet]

	queues map[models.Kind]Queue
}

// NewManager builds one Service per kind on client. The Manager takes ownership of client and
// closes it on Shutdown.
func NewManager(client redis.UniversalClient, cfg config.QueueConfig, procs Processors, deps Deps) *Manager {
	m := &Manager{
		client:             client,
		recorder:           deps.Recorder,
		log:                deps.Logger,
		CVAnalysis:         NewService(models.KindCVAnalysis, client, cfg, procs.CVAnalysis, deps),
		JobRequirements:    NewService(models.KindJobRequirements, client, cfg, procs.JobRequirements, deps),
		InterviewAnalysis:  NewService(models.KindInterviewAnalysis, client, cfg, procs.InterviewAnalysis, deps),
		QuestionGeneration: NewService(models.KindQuestionGeneration, client, cfg, procs.QuestionGeneration, deps),
	}
	m.queues = map[models.Kind]Queue{
		models.KindCVAnalysis:         m.CVAnalysis,
		models.KindJobRequirements:    m.JobRequirements,
		models.KindInterviewAnalysis:  m.InterviewAnalysis,
		models.KindQuestionGeneration: m.QuestionGeneration,
	}
	return m
}

// Queue looks up the queue for kind.
func (m *Manager) Queue(kind models.Kind) (Queue, bool) {
	q, ok := m.queues[kind]
	return q, ok
}

// Queues returns every queue in models.Kinds order.
func (m *Manager) Queues() []Queue {
	out := make([]Queue, 0, len(models.Kinds))
	for _, k := range models.Kinds {
		out = append(out, m.queues[k])
	}
	return out
}

// Start launches the worker pools of every queue.
func (m *Manager) Start() {
	for _, q := range m.Queues() {
		q.Start()
	}
	m.log.Info().Int("queues", len(m.queues)).Msg("job workers started")
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the shared Redis connection and, when it can be pinged, the result recorder.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if p, ok := m.recorder.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("result store: %w", err)
		}
	}
	return nil
}

// Stats returns the counts of every queue.
func (m *Manager) Stats(ctx context.Context) ([]models.QueueStats, error) {
	out := make([]models.QueueStats, 0, len(m.queues))
	for _, q := range m.Queues() {
		s, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Cleanup prunes old terminal jobs from every queue and reports the number removed per queue.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) (map[models.Kind]int, error) {
	removed := make(map[models.Kind]int, len(m.queues))
	for _, q := range m.Queues() {
		n, err := q.CleanupOldJobs(ctx, maxAge)
		removed[q.Kind()] = n
		if err != nil {
			return removed, fmt.Errorf("cleanup %s: %w", q.Kind(), err)
		}
	}
	return removed, nil
}

// Shutdown stops every queue concurrently, waits for in-flight jobs and then closes the Redis client.
func (m *Manager) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, q := range m.Queues() {
		q := q
		g.Go(func() error { return q.Shutdown(ctx) })
	}
	err := g.Wait()
	if cerr := m.client.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close redis: %w", cerr)
	}
	m.log.Info().Msg("job queues shut down")
	return err
}
