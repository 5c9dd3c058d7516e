package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/pkg/oss"
	"github.com/qs3c/artgen_go_server/internal/pkg/pubsub"
	"github.com/qs3c/artgen_go_server/internal/pkg/queue"
	"github.com/qs3c/artgen_go_server/internal/service"
)

// Generator 生成后端。text_to_image/image_to_image 返回图片数据，
// video_generation 返回视频数据，ext 为文件后缀（含点号）。
type Generator interface {
	Generate(ctx context.Context, task *model.GenerationTask) (data []byte, ext string, err error)
}

// Processor 生成任务处理器
type Processor struct {
	genSvc    *service.GenerationService
	generator Generator
	ossClient *oss.Client
	publisher *pubsub.Publisher
	cfg       *config.Config
}

// NewProcessor 创建任务处理器
func NewProcessor(
	genSvc *service.GenerationService,
	generator Generator,
	ossClient *oss.Client,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *Processor {
	return &Processor{
		genSvc:    genSvc,
		generator: generator,
		ossClient: ossClient,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Process 处理一条生成任务消息。失败时标记任务失败并退还积分。
func (p *Processor) Process(ctx context.Context, msg *queue.TaskMessage) error {
	task, err := p.genSvc.GetTask(msg.UserID, msg.TaskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	// 已被取消的任务（例如扣费失败）直接跳过
	if task.Status == model.GenStatusCancelled {
		log.Printf("Task %d: cancelled, skipping", task.ID)
		return nil
	}

	startedAt := time.Now()
	if err := p.genSvc.StartTask(task.ID); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	publishProgress := func(step, status string, errMsg string) {
		p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			UserID: msg.UserID,
			TaskID: msg.TaskID,
			Status: status,
			Step:   step,
			Error:  errMsg,
		})
	}

	handleError := func(step string, err error) error {
		errMsg := err.Error()
		if failErr := p.genSvc.FailTask(task.ID, errMsg); failErr != nil {
			log.Printf("Task %d: failed to mark failed: %v", task.ID, failErr)
		}
		publishProgress(step, "failed", errMsg)
		return err
	}

	// Step 1: 生成
	log.Printf("Task %d: generating (%s)", task.ID, task.TaskType)
	publishProgress(pubsub.StepGenerating, "processing", "")

	data, ext, err := p.generator.Generate(ctx, task)
	if err != nil {
		return handleError(pubsub.StepGenerating, fmt.Errorf("generation failed: %w", err))
	}

	// Step 2: 上传结果
	log.Printf("Task %d: uploading result (%d bytes)", task.ID, len(data))
	publishProgress(pubsub.StepUploading, "processing", "")

	var resultURL string
	if p.ossClient != nil {
		resultURL, err = p.ossClient.UploadArtifact(task.ID, data, ext)
		if err != nil {
			return handleError(pubsub.StepUploading, fmt.Errorf("failed to upload result: %w", err))
		}
	} else {
		// 本地存储模式 - 保存到文件
		localDir := filepath.Join(os.TempDir(), "artgen_results")
		if err := os.MkdirAll(localDir, 0755); err != nil {
			return handleError(pubsub.StepUploading, fmt.Errorf("failed to create result dir: %w", err))
		}
		localPath := filepath.Join(localDir, fmt.Sprintf("%d%s", task.ID, ext))
		if err := os.WriteFile(localPath, data, 0644); err != nil {
			return handleError(pubsub.StepUploading, fmt.Errorf("failed to save result locally: %w", err))
		}
		resultURL = fmt.Sprintf("local://%d%s", task.ID, ext)
		log.Printf("Task %d: saved result locally (OSS not configured)", task.ID)
	}

	// Step 3: 标记完成
	if err := p.genSvc.CompleteTask(task.ID, resultURL); err != nil {
		return handleError(pubsub.StepDone, fmt.Errorf("failed to complete task: %w", err))
	}

	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		UserID:    msg.UserID,
		TaskID:    msg.TaskID,
		Status:    "completed",
		Step:      pubsub.StepDone,
		ResultURL: resultURL,
	})

	log.Printf("Task %d: completed in %.1f seconds", task.ID, time.Since(startedAt).Seconds())
	return nil
}

// Run 持续消费队列，直到 ctx 取消
func (p *Processor) Run(ctx context.Context, q *queue.Queue) {
	log.Println("Worker started, waiting for tasks...")
	for {
		select {
		case <-ctx.Done():
			log.Println("Worker stopped")
			return
		default:
		}

		msg, err := q.Pop(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Failed to pop task: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		if err := p.Process(ctx, msg); err != nil {
			log.Printf("Task %d: processing failed: %v", msg.TaskID, err)
		}
	}
}
