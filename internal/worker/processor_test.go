package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/service"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

type fakeGenerator struct {
	data []byte
	ext  string
	err  error
}

func (g *fakeGenerator) Generate(_ context.Context, _ *model.GenerationTask) ([]byte, string, error) {
	if g.err != nil {
		return nil, "", g.err
	}
	return g.data, g.ext, nil
}

type recordingQueue struct {
	messages []*queue.TaskMessage
}

func (q *recordingQueue) Push(_ context.Context, msg *queue.TaskMessage) error {
	q.messages = append(q.messages, msg)
	return nil
}

func setupProcessor(t *testing.T, gen Generator) (*Processor, *service.GenerationService, *service.CreditService, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := config.Default()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	creditRepo := repository.NewCreditRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	genRepo := repository.NewGenerationRepository(db)
	creditSvc := service.NewCreditService(creditRepo, userlock.New(), cfg)
	genSvc := service.NewGenerationService(genRepo, subRepo, creditSvc, &recordingQueue{}, cfg)

	processor := NewProcessor(genSvc, gen, nil, pubsub.NewPublisher(client), cfg)
	return processor, genSvc, creditSvc, db
}

func TestProcess_Success(t *testing.T) {
	processor, genSvc, creditSvc, db := setupProcessor(t, &fakeGenerator{data: []byte("png-bytes"), ext: ".png"})
	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 100)

	task, err := genSvc.CreateTask(context.Background(), service.CreateTaskParams{
		UserID:   user.ID,
		TaskType: model.GenTextToImage,
		Prompt:   "a cat in space",
	})
	require.NoError(t, err)

	err = processor.Process(context.Background(), &queue.TaskMessage{TaskID: task.ID, UserID: user.ID})
	require.NoError(t, err)

	got, err := genSvc.GetTask(user.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenStatusCompleted, got.Status)
	assert.True(t, strings.HasPrefix(got.ResultURL, "local://"))
	require.NotNil(t, got.CompletedAt)

	// 成功的任务不退款
	assert.Equal(t, 99, creditSvc.GetAvailableCredits(user.ID))
}

func TestProcess_GeneratorFailure_RefundsCredits(t *testing.T) {
	processor, genSvc, creditSvc, db := setupProcessor(t, &fakeGenerator{err: errors.New("model backend unavailable")})
	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 100)

	task, err := genSvc.CreateTask(context.Background(), service.CreateTaskParams{
		UserID:     user.ID,
		TaskType:   model.GenVideo,
		Prompt:     "ocean waves",
		Duration:   5,
		Resolution: "720p",
	})
	require.NoError(t, err)
	assert.Equal(t, 50, creditSvc.GetAvailableCredits(user.ID))

	err = processor.Process(context.Background(), &queue.TaskMessage{TaskID: task.ID, UserID: user.ID})
	require.Error(t, err)

	got, err := genSvc.GetTask(user.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "model backend unavailable")

	// 失败任务的积分已退还
	assert.Equal(t, 100, creditSvc.GetAvailableCredits(user.ID))
}

func TestProcess_SkipsCancelledTask(t *testing.T) {
	processor, genSvc, _, db := setupProcessor(t, &fakeGenerator{data: []byte("x"), ext: ".png"})
	user := testutil.TestUser(t, db)
	task := testutil.TestTask(t, db, user.ID, model.GenTextToImage, model.GenStatusCancelled, 1)

	err := processor.Process(context.Background(), &queue.TaskMessage{TaskID: task.ID, UserID: user.ID})
	require.NoError(t, err)

	got, err := genSvc.GetTask(user.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenStatusCancelled, got.Status)
}

func TestProcess_TaskNotFound(t *testing.T) {
	processor, _, _, db := setupProcessor(t, &fakeGenerator{data: []byte("x"), ext: ".png"})
	user := testutil.TestUser(t, db)

	err := processor.Process(context.Background(), &queue.TaskMessage{TaskID: 9999, UserID: user.ID})
	require.Error(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	processor, _, _, _ := setupProcessor(t, &fakeGenerator{data: []byte("x"), ext: ".png"})

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := queue.NewQueue(client, "test_tasks")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		processor.Run(ctx, q)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
