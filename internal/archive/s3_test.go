package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruiting-ai-queue/internal/models"
)

type fakePutter struct {
	objects map[string][]byte
	failOn  string
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.failOn {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+key] = body
	return &s3.PutObjectOutput{}, nil
}

func finishedJob(id string, finished time.Time) models.Job {
	return models.Job{
		ID:         id,
		Kind:       models.KindCVAnalysis,
		Status:     models.StatusCompleted,
		Result:     json.RawMessage(`{"score":90}`),
		FinishedAt: &finished,
	}
}

func TestArchiveWritesDatedKeys(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(putter, "bucket", "ai-jobs", zerolog.Nop())
	finished := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)

	err := a.Archive(context.Background(), "cv-analysis", []models.Job{finishedJob("j1", finished), finishedJob("j2", finished)})
	require.NoError(t, err)

	require.Len(t, putter.objects, 2)
	body, ok := putter.objects["bucket/ai-jobs/cv-analysis/2024/03/09/j1.json"]
	require.True(t, ok)

	var got models.Job
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "j1", got.ID)
	assert.JSONEq(t, `{"score":90}`, string(got.Result))
}

func TestArchiveStopsOnFailure(t *testing.T) {
	finished := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	putter := &fakePutter{failOn: "ai-jobs/cv-analysis/2024/03/09/j1.json"}
	a := newS3Archiver(putter, "bucket", "ai-jobs", zerolog.Nop())

	err := a.Archive(context.Background(), "cv-analysis", []models.Job{finishedJob("j1", finished), finishedJob("j2", finished)})
	require.Error(t, err)
	assert.Empty(t, putter.objects)
}
