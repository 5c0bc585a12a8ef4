package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"aiscene/internal/util"
)

// Task names consumed by the Python pipeline workers.
const (
	TaskAnalyzeVideo   = "tasks.analyze_video_task"
	TaskGenerateScript = "tasks.generate_script_task"
	TaskGenerateAudio  = "tasks.generate_audio_task"
	TaskRenderPipeline = "tasks.render_pipeline_task"
)

const defaultQueueName = "celery"

// TimelineAsset is the per-clip payload handed to pipeline tasks.
type TimelineAsset struct {
	ID         string   `json:"id"`
	SceneLabel string   `json:"scene_label,omitempty"`
	SceneScore *float64 `json:"scene_score,omitempty"`
	OssURL     string   `json:"oss_url"`
	Duration   float64  `json:"duration"`
}

// Dispatcher submits pipeline tasks and reports queue depth.
type Dispatcher interface {
	SubmitAnalysis(ctx context.Context, projectID, assetID, videoURL string) (string, error)
	SubmitScriptGeneration(ctx context.Context, projectID string, houseInfo json.RawMessage, timeline []TimelineAsset) (string, error)
	SubmitAudioGeneration(ctx context.Context, projectID, scriptContent string) (string, error)
	SubmitRenderPipeline(ctx context.Context, projectID, scriptContent string, timeline []TimelineAsset, bgmURL string) (string, error)
	PendingCount(ctx context.Context) (int64, error)
}

// CeleryDispatcher publishes Celery-protocol messages to a Redis list.
// The Python workers consume them directly; nothing on the Go side reads
// the queue back.
type CeleryDispatcher struct {
	client *redis.Client
	queue  string
}

// NewCeleryDispatcher wires a dispatcher onto the worker queue.
// An empty queue name falls back to the Celery default.
func NewCeleryDispatcher(client *redis.Client, queue string) *CeleryDispatcher {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = defaultQueueName
	}
	return &CeleryDispatcher{client: client, queue: queue}
}

func (d *CeleryDispatcher) SubmitAnalysis(ctx context.Context, projectID, assetID, videoURL string) (string, error) {
	return d.send(ctx, TaskAnalyzeVideo,
		[]any{projectID, assetID, videoURL},
		map[string]any{"project_id": projectID, "asset_id": assetID},
	)
}

func (d *CeleryDispatcher) SubmitScriptGeneration(ctx context.Context, projectID string, houseInfo json.RawMessage, timeline []TimelineAsset) (string, error) {
	var info any
	if len(houseInfo) > 0 {
		if err := json.Unmarshal(houseInfo, &info); err != nil {
			return "", fmt.Errorf("decode house info: %w", err)
		}
	}
	return d.send(ctx, TaskGenerateScript,
		[]any{projectID, info, timeline},
		map[string]any{"project_id": projectID},
	)
}

func (d *CeleryDispatcher) SubmitAudioGeneration(ctx context.Context, projectID, scriptContent string) (string, error) {
	return d.send(ctx, TaskGenerateAudio,
		[]any{projectID, scriptContent},
		map[string]any{"project_id": projectID},
	)
}

func (d *CeleryDispatcher) SubmitRenderPipeline(ctx context.Context, projectID, scriptContent string, timeline []TimelineAsset, bgmURL string) (string, error) {
	args := []any{projectID, scriptContent, timeline}
	if bgmURL != "" {
		args = append(args, bgmURL)
	}
	return d.send(ctx, TaskRenderPipeline,
		args,
		map[string]any{"project_id": projectID},
	)
}

// PendingCount returns the number of messages waiting in the worker queue.
func (d *CeleryDispatcher) PendingCount(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.queue).Result()
}

// send wraps args in a Celery protocol-2 envelope and pushes it onto the
// Redis list the workers poll. Returns the generated task id.
func (d *CeleryDispatcher) send(ctx context.Context, taskName string, args []any, extraHeaders map[string]any) (string, error) {
	taskID := uuid.NewString()

	headers := map[string]any{
		"lang":       "py",
		"task":       taskName,
		"id":         taskID,
		"root_id":    taskID,
		"parent_id":  nil,
		"group":      nil,
		"retries":    0,
		"timelimit":  []any{nil, nil},
		"argsrepr":   fmt.Sprintf("%v", args),
		"kwargsrepr": "{}",
	}
	requestID := util.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	headers["request_id"] = requestID
	for k, v := range extraHeaders {
		if k != "" && v != nil {
			headers[k] = v
		}
	}

	embed := map[string]any{
		"callbacks": nil,
		"errbacks":  nil,
		"chain":     nil,
		"chord":     nil,
	}
	bodyJSON, err := json.Marshal([]any{args, map[string]any{}, embed})
	if err != nil {
		return "", fmt.Errorf("encode task body: %w", err)
	}

	message := map[string]any{
		"body":             base64.StdEncoding.EncodeToString(bodyJSON),
		"content-encoding": "utf-8",
		"content-type":     "application/json",
		"headers":          headers,
		"properties": map[string]any{
			"correlation_id": taskID,
			"reply_to":       uuid.NewString(),
			"delivery_mode":  2,
			"delivery_tag":   uuid.NewString(),
			"priority":       0,
			"body_encoding":  "base64",
			"delivery_info": map[string]any{
				"exchange":    "",
				"routing_key": d.queue,
			},
		},
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("encode task message: %w", err)
	}
	if err := d.client.LPush(ctx, d.queue, payload).Err(); err != nil {
		return "", fmt.Errorf("push task %s: %w", taskName, err)
	}
	return taskID, nil
}
