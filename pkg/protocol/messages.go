package protocol

import (
	"github.com/graphworks/spanners/pkg/types"
)

// ErrorType classifies a failure on an error frame
type ErrorType string

const (
	ErrTypeFraming        ErrorType = "FRAMING"
	ErrTypeParse          ErrorType = "PARSE"
	ErrTypeUnauthorized   ErrorType = "UNAUTHORIZED"
	ErrTypeUserCreation   ErrorType = "USER_CREATION"
	ErrTypeNotFound       ErrorType = "NOT_FOUND"
	ErrTypeInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrTypeDB             ErrorType = "DB_ERROR"
	ErrTypeKDF            ErrorType = "KDF_ERROR"
	ErrTypeHandler        ErrorType = "HANDLER_ERROR"
	ErrTypeInternal       ErrorType = "INTERNAL"
)

// Container statuses
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// ErrorMessage is the container of an error frame
type ErrorMessage struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message,omitempty"`
}

// ResponseContainer is the generic acknowledgement container
type ResponseContainer struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewJobResponse acknowledges a job submission
type NewJobResponse struct {
	JobID int64 `json:"jobid"`
}

// ResultRequest identifies the job a RESULT, ABORT_JOB, DELETE_JOB or
// ORIGIN_GRAPH request refers to.
type ResultRequest struct {
	JobID int64 `json:"jobid"`
}

// StatusResponse lists the status records of the authenticated user's jobs
type StatusResponse struct {
	Jobs []*types.StatusRecord `json:"jobs"`
}

// HandlerInfo describes one registered algorithm handler
type HandlerInfo struct {
	Name           string   `json:"name"`
	RequiredFields []string `json:"required_fields"`
	ResultShape    string   `json:"result_shape"`
}

// HandlersResponse lists the handler capabilities of the server
type HandlersResponse struct {
	Handlers []HandlerInfo `json:"handlers"`
}

// ResultResponse carries the stored response blob of a finished job with
// its latest status record appended.
type ResultResponse struct {
	Payload []byte              `json:"payload"`
	Status  *types.StatusRecord `json:"status"`
}
