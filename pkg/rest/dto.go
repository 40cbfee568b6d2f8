package rest

import (
	"fmt"
	"time"

	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

// Durations travel as integer milliseconds and timestamps in
// variables.DateLayout.

type topicDTO struct {
	TopicName    string   `json:"topicName"`
	LockDuration int64    `json:"lockDuration"`
	Variables    []string `json:"variables"`

	// MaxTasks is an extension honored by NewHandler; other servers
	// ignore it.
	MaxTasks int `json:"maxTasks,omitempty"`
}

type fetchRequestDTO struct {
	WorkerID             string     `json:"workerId"`
	MaxTasks             int        `json:"maxTasks"`
	UsePriority          bool       `json:"usePriority,omitempty"`
	AsyncResponseTimeout int64      `json:"asyncResponseTimeout,omitempty"`
	Topics               []topicDTO `json:"topics"`
}

type lockedTaskDTO struct {
	ID                   string                    `json:"id"`
	TopicName            string                    `json:"topicName"`
	WorkerID             string                    `json:"workerId"`
	LockExpirationTime   string                    `json:"lockExpirationTime,omitempty"`
	ProcessInstanceID    string                    `json:"processInstanceId,omitempty"`
	ProcessDefinitionID  string                    `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey string                    `json:"processDefinitionKey,omitempty"`
	ActivityID           string                    `json:"activityId,omitempty"`
	ActivityInstanceID   string                    `json:"activityInstanceId,omitempty"`
	ExecutionID          string                    `json:"executionId,omitempty"`
	BusinessKey          string                    `json:"businessKey,omitempty"`
	TenantID             string                    `json:"tenantId,omitempty"`
	Retries              *int                      `json:"retries"`
	ErrorMessage         string                    `json:"errorMessage,omitempty"`
	ErrorDetails         string                    `json:"errorDetails,omitempty"`
	Priority             int64                     `json:"priority"`
	Variables            map[string]variables.Wire `json:"variables,omitempty"`
}

type completeDTO struct {
	WorkerID       string                    `json:"workerId"`
	Variables      map[string]variables.Wire `json:"variables,omitempty"`
	LocalVariables map[string]variables.Wire `json:"localVariables,omitempty"`
}

type failureDTO struct {
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage"`
	ErrorDetails string `json:"errorDetails,omitempty"`
	Retries      int    `json:"retries"`
	RetryTimeout int64  `json:"retryTimeout"`
}

type bpmnErrorDTO struct {
	WorkerID     string                    `json:"workerId"`
	ErrorCode    string                    `json:"errorCode"`
	ErrorMessage string                    `json:"errorMessage,omitempty"`
	Variables    map[string]variables.Wire `json:"variables,omitempty"`
}

type extendLockDTO struct {
	WorkerID    string `json:"workerId"`
	NewDuration int64  `json:"newDuration"`
}

// errorDTO is the body of every non-success response.
type errorDTO struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func millis(d time.Duration) int64 { return d.Milliseconds() }

func fromMillis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func fetchRequestToDTO(req api.FetchRequest) fetchRequestDTO {
	out := fetchRequestDTO{
		WorkerID:             req.WorkerID,
		MaxTasks:             req.MaxTasks,
		UsePriority:          req.UsePriority,
		AsyncResponseTimeout: millis(req.AsyncResponseTimeout),
		Topics:               make([]topicDTO, 0, len(req.Topics)),
	}
	for _, t := range req.Topics {
		out.Topics = append(out.Topics, topicDTO{
			TopicName:    t.TopicName,
			LockDuration: millis(t.LockDuration),
			Variables:    t.Variables,
			MaxTasks:     t.MaxTasks,
		})
	}
	return out
}

func fetchRequestFromDTO(in fetchRequestDTO) api.FetchRequest {
	out := api.FetchRequest{
		WorkerID:             in.WorkerID,
		MaxTasks:             in.MaxTasks,
		UsePriority:          in.UsePriority,
		AsyncResponseTimeout: fromMillis(in.AsyncResponseTimeout),
		Topics:               make([]api.TopicRequest, 0, len(in.Topics)),
	}
	for _, t := range in.Topics {
		out.Topics = append(out.Topics, api.TopicRequest{
			TopicName:    t.TopicName,
			LockDuration: fromMillis(t.LockDuration),
			Variables:    t.Variables,
			MaxTasks:     t.MaxTasks,
		})
	}
	return out
}

func lockedTaskToDTO(t api.LockedTask) lockedTaskDTO {
	out := lockedTaskDTO{
		ID:                   t.ID,
		TopicName:            t.TopicName,
		WorkerID:             t.WorkerID,
		ProcessInstanceID:    t.ProcessInstanceID,
		ProcessDefinitionID:  t.ProcessDefinitionID,
		ProcessDefinitionKey: t.ProcessDefinitionKey,
		ActivityID:           t.ActivityID,
		ActivityInstanceID:   t.ActivityInstanceID,
		ExecutionID:          t.ExecutionID,
		BusinessKey:          t.BusinessKey,
		TenantID:             t.TenantID,
		Retries:              t.Retries,
		ErrorMessage:         t.ErrorMessage,
		ErrorDetails:         t.ErrorDetails,
		Priority:             t.Priority,
		Variables:            t.Variables,
	}
	if !t.LockExpirationTime.IsZero() {
		out.LockExpirationTime = t.LockExpirationTime.Format(variables.DateLayout)
	}
	return out
}

func lockedTaskFromDTO(in lockedTaskDTO) (api.LockedTask, error) {
	out := api.LockedTask{
		ID:                   in.ID,
		TopicName:            in.TopicName,
		WorkerID:             in.WorkerID,
		ProcessInstanceID:    in.ProcessInstanceID,
		ProcessDefinitionID:  in.ProcessDefinitionID,
		ProcessDefinitionKey: in.ProcessDefinitionKey,
		ActivityID:           in.ActivityID,
		ActivityInstanceID:   in.ActivityInstanceID,
		ExecutionID:          in.ExecutionID,
		BusinessKey:          in.BusinessKey,
		TenantID:             in.TenantID,
		Retries:              in.Retries,
		ErrorMessage:         in.ErrorMessage,
		ErrorDetails:         in.ErrorDetails,
		Priority:             in.Priority,
		Variables:            in.Variables,
	}
	if in.LockExpirationTime != "" {
		ts, err := time.Parse(variables.DateLayout, in.LockExpirationTime)
		if err != nil {
			return api.LockedTask{}, fmt.Errorf("task %s: lock expiration time: %w", in.ID, err)
		}
		out.LockExpirationTime = ts
	}
	return out, nil
}
