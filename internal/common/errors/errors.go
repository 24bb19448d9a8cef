package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	ErrCodeInvalidQuery          ErrorCode = "INVALID_QUERY"
	ErrCodeInputValidationFailed ErrorCode = "INPUT_VALIDATION_FAILED"

	ErrCodeEmbeddingFailed    ErrorCode = "EMBEDDING_FAILED"
	ErrCodeVectorSearchFailed ErrorCode = "VECTOR_SEARCH_FAILED"

	ErrCodeKeywordSearchFailed ErrorCode = "KEYWORD_SEARCH_FAILED"
	ErrCodeIndexNotFound       ErrorCode = "INDEX_NOT_FOUND"

	ErrCodeWebSearchFailed  ErrorCode = "WEB_SEARCH_FAILED"
	ErrCodeWebSearchTimeout ErrorCode = "WEB_SEARCH_TIMEOUT"

	ErrCodeSearchTimeout      ErrorCode = "SEARCH_TIMEOUT"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeEmptyResult        ErrorCode = "EMPTY_RESULT"

	ErrCodeRetrievalFailed    ErrorCode = "RETRIEVAL_FAILED"
	ErrCodeRetrievalCancelled ErrorCode = "RETRIEVAL_CANCELLED"

	ErrCodeDatabaseConnectionFailed      ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeEventPublishFailed            ErrorCode = "EVENT_PUBLISH_FAILED"

	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout         ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNotFound        ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAuthentication  ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// As extracts the first StandardError in err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the StandardError code in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

// FromCode rebuilds an error reported elsewhere, such as a response envelope.
func FromCode(code ErrorCode, message string) *StandardError {
	return newError(code, message, "", IsRetryableErrorCode(code), nil)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func NewInvalidQueryError(details string) *StandardError {
	return newError(ErrCodeInvalidQuery, "Query must not be empty", details, false, nil)
}

func NewInputValidationFailedError(details string) *StandardError {
	return newError(ErrCodeInputValidationFailed, "Input validation failed", details, false, nil)
}

func NewEmbeddingFailedError(err error) *StandardError {
	return newError(ErrCodeEmbeddingFailed, "Query embedding failed", errDetails(err), true, err)
}

func NewVectorSearchFailedError(err error) *StandardError {
	return newError(ErrCodeVectorSearchFailed, "Vector search failed", errDetails(err), true, err)
}

func NewKeywordSearchFailedError(index string, err error) *StandardError {
	return newError(ErrCodeKeywordSearchFailed, "Keyword search failed",
		fmt.Sprintf("index: %s, error: %s", index, errDetails(err)), true, err)
}

func NewIndexNotFoundError(indexName string) *StandardError {
	return newError(ErrCodeIndexNotFound, "Elasticsearch index not found",
		fmt.Sprintf("indexName: %s", indexName), false, nil)
}

func NewWebSearchFailedError(err error) *StandardError {
	return newError(ErrCodeWebSearchFailed, "Web search API error", errDetails(err), true, err)
}

func NewWebSearchTimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeWebSearchTimeout, "Web search API timeout",
		fmt.Sprintf("search call exceeded %s", timeout), false, nil)
}

func NewSearchTimeoutError(strategy string, timeout time.Duration) *StandardError {
	return newError(ErrCodeSearchTimeout, "Search backend timeout",
		fmt.Sprintf("strategy: %s, timeout: %s", strategy, timeout), true, nil)
}

func NewBackendUnavailableError(strategy string) *StandardError {
	return newError(ErrCodeBackendUnavailable, "No backend configured for strategy",
		fmt.Sprintf("strategy: %s", strategy), false, nil)
}

func NewEmptyResultError(strategy string) *StandardError {
	return newError(ErrCodeEmptyResult, "Search returned no usable results",
		fmt.Sprintf("strategy: %s", strategy), false, nil)
}

func NewRetrievalFailedError(lastErr error) *StandardError {
	msg := "All retrieval strategies failed"
	if lastErr != nil {
		if stdErr, ok := As(lastErr); ok {
			msg = fmt.Sprintf("%s: %s", msg, stdErr.Message)
		} else {
			msg = fmt.Sprintf("%s: %s", msg, lastErr.Error())
		}
	}
	return newError(ErrCodeRetrievalFailed, msg, errDetails(lastErr), true, lastErr)
}

func NewRetrievalCancelledError(err error) *StandardError {
	return newError(ErrCodeRetrievalCancelled, "Retrieval cancelled by caller", errDetails(err), false, err)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", errDetails(err), true, err)
}

func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeElasticsearchConnectionFailed, "Elasticsearch connection error", errDetails(err), true, err)
}

func NewEventPublishFailedError(sink string, err error) *StandardError {
	return newError(ErrCodeEventPublishFailed, fmt.Sprintf("Publishing event to %s failed", sink), errDetails(err), true, err)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), errDetails(err), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), errDetails(err), true, err)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("Resource not found in %s", service), details, false, nil)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthentication, "Authentication failed", details, false, nil)
}

// BPMNErrorMapping lists the codes a process model can catch with an error
// boundary event. Codes absent here are passed through verbatim.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidQuery:                  "INVALID_QUERY",
	ErrCodeInputValidationFailed:         "INPUT_VALIDATION_FAILED",
	ErrCodeRetrievalFailed:               "RETRIEVAL_FAILED",
	ErrCodeRetrievalCancelled:            "RETRIEVAL_CANCELLED",
	ErrCodeDatabaseConnectionFailed:      "DATABASE_CONNECTION_FAILED",
	ErrCodeElasticsearchConnectionFailed: "ELASTICSEARCH_CONNECTION_FAILED",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeExternalService,
		ErrCodeEventPublishFailed:
		return 3

	case ErrCodeRetrievalFailed,
		ErrCodeSearchTimeout,
		ErrCodeTimeout:
		return 2

	case ErrCodeEmbeddingFailed:
		return 1

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "EMBEDDING"):
		return "AI"
	case strings.Contains(codeStr, "DATABASE") || strings.HasPrefix(codeStr, "VECTOR"):
		return "DATABASE"
	case strings.Contains(codeStr, "ELASTICSEARCH") || strings.Contains(codeStr, "KEYWORD") || strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "WEB"):
		return "WEB"
	case strings.Contains(codeStr, "RETRIEVAL") || strings.Contains(codeStr, "RESULT") || strings.Contains(codeStr, "BACKEND"):
		return "RETRIEVAL"
	case strings.Contains(codeStr, "EVENT"):
		return "EVENTS"
	default:
		return "OTHER"
	}
}
