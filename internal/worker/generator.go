package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model"
)

// HTTPGenerator 调用外部推理服务的生成后端。
// 接口约定：POST {base}/v1/generate，返回生成结果的原始字节，
// Content-Type 决定文件后缀。
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGenerator(cfg config.GenerationConfig) *HTTPGenerator {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute // 视频生成可能很慢
	}
	return &HTTPGenerator{
		baseURL: cfg.APIBaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	TaskType   string `json:"task_type"`
	Prompt     string `json:"prompt"`
	SourceURL  string `json:"source_url,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Generate 实现 Generator 接口
func (g *HTTPGenerator) Generate(ctx context.Context, task *model.GenerationTask) ([]byte, string, error) {
	body, err := json.Marshal(&generateRequest{
		TaskType:   task.TaskType,
		Prompt:     task.Prompt,
		SourceURL:  task.SourceURL,
		Duration:   task.Duration,
		Resolution: task.Resolution,
	})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("generation backend returned %d: %s", resp.StatusCode, msg)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	return data, extForContentType(resp.Header.Get("Content-Type"), task.TaskType), nil
}

func extForContentType(contentType, taskType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	if taskType == model.GenVideo {
		return ".mp4"
	}
	return ".png"
}
