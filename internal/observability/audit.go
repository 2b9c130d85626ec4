// Audit logging for the document engine. Events are newline-delimited
// JSON so a collection's ingest and query history can be replayed or
// shipped to an external store.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventIngestAdd     AuditEventType = "ingest.add"
	AuditEventIngestSkip    AuditEventType = "ingest.skip"
	AuditEventIngestError   AuditEventType = "ingest.error"
	AuditEventDocDelete     AuditEventType = "doc.delete"
	AuditEventClear         AuditEventType = "collection.clear"
	AuditEventGather        AuditEventType = "evidence.gather"
	AuditEventQuery         AuditEventType = "answer.query"
	AuditEventLLMRequest    AuditEventType = "llm.request"
	AuditEventLLMResponse   AuditEventType = "llm.response"
	AuditEventLLMError      AuditEventType = "llm.error"
	AuditEventMetadataFetch AuditEventType = "metadata.fetch"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	SessionID    string                 `json:"session_id"`
	CollectionID string                 `json:"collection_id,omitempty"`
	Docname      string                 `json:"docname,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	Success      bool                   `json:"success"`
	Duration     time.Duration          `json:"duration_ms,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorDetail  string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIngest logs a successful document ingestion.
func (l *AuditLogger) LogIngest(ctx context.Context, collectionID, docname, dockey string, chunks int, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType:    AuditEventIngestAdd,
		CollectionID: collectionID,
		Docname:      docname,
		Success:      true,
		Duration:     duration,
		Message:      fmt.Sprintf("Ingested %s (%d chunks)", docname, chunks),
		Details: map[string]interface{}{
			"dockey": dockey,
			"chunks": chunks,
		},
	})
}

// LogIngestSkip logs a document skipped as a duplicate or by a filter.
func (l *AuditLogger) LogIngestSkip(ctx context.Context, collectionID, source, reason string) {
	l.Log(&AuditEvent{
		EventType:    AuditEventIngestSkip,
		CollectionID: collectionID,
		Success:      true,
		Message:      fmt.Sprintf("Skipped %s: %s", source, reason),
		Details: map[string]interface{}{
			"source": source,
			"reason": reason,
		},
	})
}

// LogIngestError logs a failed document ingestion.
func (l *AuditLogger) LogIngestError(ctx context.Context, collectionID, source string, err error) {
	l.Log(&AuditEvent{
		EventType:    AuditEventIngestError,
		CollectionID: collectionID,
		Success:      false,
		Message:      fmt.Sprintf("Ingest of %s failed", source),
		ErrorDetail:  err.Error(),
	})
}

// LogDocDelete logs a document removal.
func (l *AuditLogger) LogDocDelete(ctx context.Context, collectionID, docname, dockey string) {
	l.Log(&AuditEvent{
		EventType:    AuditEventDocDelete,
		CollectionID: collectionID,
		Docname:      docname,
		Success:      true,
		Message:      fmt.Sprintf("Deleted %s", docname),
		Details: map[string]interface{}{
			"dockey": dockey,
		},
	})
}

// LogClear logs a full collection reset.
func (l *AuditLogger) LogClear(ctx context.Context, collectionID string, docCount int) {
	l.Log(&AuditEvent{
		EventType:    AuditEventClear,
		CollectionID: collectionID,
		Success:      true,
		Message:      fmt.Sprintf("Cleared collection (%d documents)", docCount),
		Details: map[string]interface{}{
			"doc_count": docCount,
		},
	})
}

// LogGather logs an evidence-gathering pass.
func (l *AuditLogger) LogGather(ctx context.Context, collectionID, question string, candidates, contexts int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType:    AuditEventGather,
		CollectionID: collectionID,
		Success:      err == nil,
		Duration:     duration,
		Message:      fmt.Sprintf("Gathered %d contexts from %d candidates", contexts, candidates),
		Details: map[string]interface{}{
			"question":   question,
			"candidates": candidates,
			"contexts":   contexts,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogQuery logs an answer generation.
func (l *AuditLogger) LogQuery(ctx context.Context, collectionID, question string, sources int, cannotAnswer bool, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType:    AuditEventQuery,
		CollectionID: collectionID,
		Success:      err == nil,
		Duration:     duration,
		Message:      fmt.Sprintf("Answered with %d sources", sources),
		Details: map[string]interface{}{
			"question":      question,
			"sources":       sources,
			"cannot_answer": cannotAnswer,
		},
	}
	if err != nil {
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogLLMRequest logs an LLM request event.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string, promptTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"prompt_tokens": promptTokens,
		},
	})
}

// LogLLMResponse logs an LLM response event.
func (l *AuditLogger) LogLLMResponse(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMResponse,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM response from %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogLLMError logs an LLM error event.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogMetadataFetch logs an external metadata lookup.
func (l *AuditLogger) LogMetadataFetch(ctx context.Context, docname, source string, found bool, duration time.Duration) {
	l.Log(&AuditEvent{
		EventType: AuditEventMetadataFetch,
		Docname:   docname,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Metadata lookup for %s via %s", docname, source),
		Details: map[string]interface{}{
			"source": source,
			"found":  found,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
