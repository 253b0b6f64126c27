package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// Processor executes one kind of job. It returns the output document and any
// log lines produced along the way. A returned error marks the attempt failed
// and feeds the retry state machine.
type Processor interface {
	Process(ctx context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error) {
	return f(ctx, msg)
}

// DefaultProcessors returns the built-in processor per job type.
func DefaultProcessors() map[model.JobType]Processor {
	return map[model.JobType]Processor{
		model.JobTypeCodeExecution:  ProcessorFunc(processCodeExecution),
		model.JobTypeFileProcessing: ProcessorFunc(processFileProcessing),
		model.JobTypeExportProject:  ProcessorFunc(processExportProject),
	}
}

type codeExecutionPayload struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

func processCodeExecution(_ context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error) {
	var payload codeExecutionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode code_execution payload: %w", err)
	}
	if strings.TrimSpace(payload.Code) == "" {
		return nil, nil, errors.New("code_execution payload has no code")
	}

	language := payload.Language
	if language == "" {
		language = "javascript"
	}

	output, err := json.Marshal(map[string]any{
		"exit_code": 0,
		"language":  language,
		"stdout":    fmt.Sprintf("executed %d bytes of %s", len(payload.Code), language),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode code_execution output: %w", err)
	}
	return output, []string{"sandbox provisioned", "execution finished"}, nil
}

type fileProcessingPayload struct {
	FileID    string `json:"file_id"`
	Operation string `json:"operation,omitempty"`
}

func processFileProcessing(_ context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error) {
	var payload fileProcessingPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode file_processing payload: %w", err)
	}
	if payload.FileID == "" {
		return nil, nil, errors.New("file_processing payload has no file_id")
	}

	operation := payload.Operation
	if operation == "" {
		operation = "transform"
	}

	output, err := json.Marshal(map[string]any{
		"file_id":   payload.FileID,
		"operation": operation,
		"status":    "processed",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode file_processing output: %w", err)
	}
	return output, []string{fmt.Sprintf("file %s %s complete", payload.FileID, operation)}, nil
}

type exportProjectPayload struct {
	ProjectID string `json:"project_id"`
	Format    string `json:"format,omitempty"`
}

func processExportProject(_ context.Context, msg model.DispatchMessage) (json.RawMessage, []string, error) {
	var payload exportProjectPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode export_project payload: %w", err)
	}
	if payload.ProjectID == "" {
		return nil, nil, errors.New("export_project payload has no project_id")
	}

	format := payload.Format
	if format == "" {
		format = "zip"
	}

	output, err := json.Marshal(map[string]any{
		"project_id":   payload.ProjectID,
		"format":       format,
		"artifact_url": fmt.Sprintf("exports/%s.%s", payload.ProjectID, format),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode export_project output: %w", err)
	}
	return output, []string{fmt.Sprintf("project %s packaged as %s", payload.ProjectID, format)}, nil
}
