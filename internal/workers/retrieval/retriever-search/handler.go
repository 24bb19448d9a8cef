// internal/workers/retrieval/retriever-search/handler.go
package retrieversearch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/common/logger"
	"retriever-agent/internal/common/metrics"
	"retriever-agent/internal/common/validation"
	"retriever-agent/internal/retriever"
	"retriever-agent/pkg/registry"
)

const (
	TaskType = "retriever-search"
)

// Searcher is implemented by *retriever.Retriever.
type Searcher interface {
	Search(ctx context.Context, query string, sc *retriever.SearchContext, sessionID, userID string) *retriever.Response
}

// JobRecorder is implemented by *observability.Observability.
type JobRecorder interface {
	RecordJobProcessed(ctx context.Context, status string)
	RecordJobDuration(ctx context.Context, duration time.Duration, status string)
}

// Job outcomes reported to the JobRecorder.
const (
	jobCompleted    = "completed"
	jobUnsuccessful = "unsuccessful"
	jobFailed       = "failed"
)

type Handler struct {
	config       *Config
	searcher     Searcher
	recorder     JobRecorder
	validator    *validation.Validator
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the job handler. recorder may be nil.
func NewHandler(config *Config, searcher Searcher, recorder JobRecorder, log logger.Logger) (*Handler, error) {
	reg, err := registry.Default()
	if err != nil {
		return nil, err
	}
	activity, err := reg.ByTaskType(TaskType)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewValidator(activity.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("compile %s input schema: %w", TaskType, err)
	}

	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		searcher:     searcher,
		recorder:     recorder,
		validator:    validator,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	status := jobFailed
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
		h.record(status, time.Since(start))
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	status = jobStatus(output)
	h.completeJob(client, job, output)
}

func jobStatus(output *Output) string {
	if output.Retrieval != nil && output.Retrieval.Success {
		return jobCompleted
	}
	return jobUnsuccessful
}

func (h *Handler) record(status string, d time.Duration) {
	if h.recorder == nil {
		return
	}
	ctx := context.Background()
	h.recorder.RecordJobProcessed(ctx, status)
	h.recorder.RecordJobDuration(ctx, d, status)
}

// parseInput validates the raw job variables against the registered input
// schema before decoding them.
func (h *Handler) parseInput(variables string) (*Input, error) {
	result, err := h.validator.ValidateJSON([]byte(variables))
	if err != nil {
		return nil, errors.NewInputValidationFailedError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInputValidationFailedError(fmt.Sprintf("%v", result.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInputValidationFailedError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	resp := h.searcher.Search(ctx, input.Query, input.Context.SearchContext(), input.SessionID, input.UserID)

	if !resp.Success && h.config.FailOnError && resp.Error != nil {
		return nil, errors.FromCode(errors.ErrorCode(resp.Error.Code), resp.Error.Message)
	}
	return &Output{Retrieval: resp}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":  job.Key,
		"success": output.Retrieval.Success,
		"results": output.Retrieval.Metadata.TotalResults,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
