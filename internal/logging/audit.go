// Package logging provides audit logging that outputs Mangle-queryable facts.
// Audit logs are structured routing events that can be parsed into Mangle
// predicates for declarative querying and analysis of routing decisions.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Route lifecycle -> route_event/5
	AuditRouteReceived  AuditEventType = "route_received"
	AuditRouteCompleted AuditEventType = "route_completed"
	AuditRouteFailed    AuditEventType = "route_failed"

	// Intent extraction -> intent_extracted/5
	AuditIntentExtracted AuditEventType = "intent_extracted"

	// Matching -> match_event/6
	AuditProfileScored     AuditEventType = "profile_scored"
	AuditWorkingSetChosen  AuditEventType = "working_set"
	AuditThresholdEscalate AuditEventType = "threshold_escalate"
	AuditNoMatch           AuditEventType = "no_match"

	// Session lifecycle -> session_event/5
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionMode  AuditEventType = "session_mode"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditSessionAbort AuditEventType = "session_abort"

	// Evaluation -> eval_event/6
	AuditEvalComplete AuditEventType = "eval_complete"
	AuditEvalTimeout  AuditEventType = "eval_timeout"
	AuditEvalError    AuditEventType = "eval_error"
	AuditEvalSkipped  AuditEventType = "eval_skipped"

	// Fusion -> conflict_event/6
	AuditConflictDetected   AuditEventType = "conflict_detected"
	AuditConflictResolved   AuditEventType = "conflict_resolved"
	AuditConflictUnresolved AuditEventType = "conflict_unresolved"

	// Feedback -> feedback_event/5
	AuditFeedbackReceived AuditEventType = "feedback_received"
	AuditFeedbackDropped  AuditEventType = "feedback_dropped"
	AuditEfficacyUpdated  AuditEventType = "efficacy_updated"

	// Registry -> registry_event/4
	AuditProfileRegistered AuditEventType = "profile_registered"
	AuditProfileReplaced   AuditEventType = "profile_replaced"
	AuditDescriptorReload  AuditEventType = "descriptor_reload"

	// Memory -> memory_op/5
	AuditMemoryStore  AuditEventType = "memory_store"
	AuditMemoryRecall AuditEventType = "memory_recall"
	AuditMemorySweep  AuditEventType = "memory_sweep"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry that can be parsed to Mangle.
// Format: predicate(timestamp, category, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Maps to Mangle predicate
	Category   string                 `json:"cat"`     // Log category
	SessionID  string                 `json:"session"` // Session correlation
	RequestID  string                 `json:"req"`     // Request correlation
	ProfileID  string                 `json:"profile"` // Profile if applicable
	Target     string                 `json:"target"`  // Target of operation
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Score      float64                `json:"score"`   // Score where applicable
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
	MangleFact string                 `json:"mangle"`  // Pre-formatted Mangle fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with Mangle fact generation
type AuditLogger struct {
	sessionID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateMangleFact creates a Mangle-compatible fact string from an event
func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditRouteReceived, AuditRouteCompleted, AuditRouteFailed:
		return fmt.Sprintf("route_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.RequestID, e.Success, e.DurationMs)

	case AuditIntentExtracted:
		return fmt.Sprintf("intent_extracted(%d, \"%s\", \"%s\", \"%s\", %d).",
			e.Timestamp, e.RequestID, e.Target, e.Fields["task_type"], e.DurationMs)

	case AuditProfileScored, AuditWorkingSetChosen, AuditThresholdEscalate, AuditNoMatch:
		return fmt.Sprintf("match_event(%d, /%s, \"%s\", \"%s\", %.3f, %v).",
			e.Timestamp, e.EventType, e.RequestID, e.ProfileID, e.Score, e.Success)

	case AuditSessionStart, AuditSessionMode, AuditSessionEnd, AuditSessionAbort:
		return fmt.Sprintf("session_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.SessionID, e.Target, e.Success)

	case AuditEvalComplete, AuditEvalTimeout, AuditEvalError, AuditEvalSkipped:
		return fmt.Sprintf("eval_event(%d, /%s, \"%s\", \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.SessionID, e.ProfileID, e.Success, e.DurationMs)

	case AuditConflictDetected, AuditConflictResolved, AuditConflictUnresolved:
		return fmt.Sprintf("conflict_event(%d, /%s, \"%s\", \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.SessionID, e.Target, e.Fields["resolution"], e.Success)

	case AuditFeedbackReceived, AuditFeedbackDropped, AuditEfficacyUpdated:
		return fmt.Sprintf("feedback_event(%d, /%s, \"%s\", \"%s\", %.3f).",
			e.Timestamp, e.EventType, e.SessionID, e.ProfileID, e.Score)

	case AuditProfileRegistered, AuditProfileReplaced, AuditDescriptorReload:
		return fmt.Sprintf("registry_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.ProfileID, e.Success)

	case AuditMemoryStore, AuditMemoryRecall, AuditMemorySweep:
		return fmt.Sprintf("memory_op(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Fields["scope"], e.Target, e.Success)

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

func escapeString(s string) string {
	// Escape quotes and backslashes for Mangle strings
	// Optimization: Replaced O(N^2) string concatenation with strings.Builder.
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// RouteReceived logs an incoming routing request
func (a *AuditLogger) RouteReceived(requestID, callerID string, textLen int) {
	a.Log(AuditEvent{
		EventType: AuditRouteReceived,
		RequestID: requestID,
		Target:    callerID,
		Success:   true,
		Fields:    map[string]interface{}{"text_len": textLen},
		Message:   fmt.Sprintf("Route received: %s from %s (%d chars)", requestID, callerID, textLen),
	})
}

// RouteCompleted logs a finished routing request
func (a *AuditLogger) RouteCompleted(requestID string, durationMs int64, participants int) {
	a.Log(AuditEvent{
		EventType:  AuditRouteCompleted,
		RequestID:  requestID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"participants": participants},
		Message:    fmt.Sprintf("Route completed: %s (%d participants, %dms)", requestID, participants, durationMs),
	})
}

// RouteFailed logs a failed routing request
func (a *AuditLogger) RouteFailed(requestID string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: AuditRouteFailed,
		RequestID: requestID,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Route failed: %s (%s)", requestID, errMsg),
	})
}

// IntentExtracted logs intent extraction results
func (a *AuditLogger) IntentExtracted(requestID, taskType string, tags, keywords int) {
	a.Log(AuditEvent{
		EventType: AuditIntentExtracted,
		RequestID: requestID,
		Target:    taskType,
		Success:   true,
		Fields: map[string]interface{}{
			"task_type": taskType,
			"tags":      tags,
			"keywords":  keywords,
		},
		Message: fmt.Sprintf("Intent: %s (%d tags, %d keywords)", taskType, tags, keywords),
	})
}

// ProfileScored logs one profile's match score
func (a *AuditLogger) ProfileScored(requestID, profileID string, score float64, selected bool) {
	a.Log(AuditEvent{
		EventType: AuditProfileScored,
		RequestID: requestID,
		ProfileID: profileID,
		Score:     score,
		Success:   selected,
		Message:   fmt.Sprintf("Scored %s: %.3f (selected=%v)", profileID, score, selected),
	})
}

// WorkingSet logs the selected working set
func (a *AuditLogger) WorkingSet(requestID string, profileIDs []string, escalated bool) {
	a.Log(AuditEvent{
		EventType: AuditWorkingSetChosen,
		RequestID: requestID,
		Target:    strings.Join(profileIDs, ","),
		Success:   true,
		Fields:    map[string]interface{}{"escalated": escalated, "size": len(profileIDs)},
		Message:   fmt.Sprintf("Working set: [%s] escalated=%v", strings.Join(profileIDs, ", "), escalated),
	})
}

// SessionMode logs the chosen execution mode
func (a *AuditLogger) SessionMode(sessionID, mode string, waves int) {
	a.Log(AuditEvent{
		EventType: AuditSessionMode,
		SessionID: sessionID,
		Target:    mode,
		Success:   true,
		Fields:    map[string]interface{}{"waves": waves},
		Message:   fmt.Sprintf("Session %s mode=%s waves=%d", sessionID, mode, waves),
	})
}

// EvalResult logs one profile evaluation outcome
func (a *AuditLogger) EvalResult(sessionID, profileID string, eventType AuditEventType, durationMs int64, errMsg string) {
	a.Log(AuditEvent{
		EventType:  eventType,
		SessionID:  sessionID,
		ProfileID:  profileID,
		Success:    eventType == AuditEvalComplete,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Eval %s: %s (%dms)", profileID, eventType, durationMs),
	})
}

// Conflict logs a fusion conflict and its resolution
func (a *AuditLogger) Conflict(sessionID, key, resolution string, resolved bool) {
	eventType := AuditConflictResolved
	if !resolved {
		eventType = AuditConflictUnresolved
	}
	a.Log(AuditEvent{
		EventType: eventType,
		SessionID: sessionID,
		Target:    key,
		Success:   resolved,
		Fields:    map[string]interface{}{"resolution": resolution},
		Message:   fmt.Sprintf("Conflict on %q: %s", key, resolution),
	})
}

// EfficacyUpdated logs a feedback-driven efficacy change
func (a *AuditLogger) EfficacyUpdated(sessionID, profileID string, newScore float64) {
	a.Log(AuditEvent{
		EventType: AuditEfficacyUpdated,
		SessionID: sessionID,
		ProfileID: profileID,
		Score:     newScore,
		Success:   true,
		Message:   fmt.Sprintf("Efficacy %s -> %.3f", profileID, newScore),
	})
}

// ProfileRegistered logs a registry mutation
func (a *AuditLogger) ProfileRegistered(profileID string, replaced bool) {
	eventType := AuditProfileRegistered
	if replaced {
		eventType = AuditProfileReplaced
	}
	a.Log(AuditEvent{
		EventType: eventType,
		ProfileID: profileID,
		Success:   true,
		Message:   fmt.Sprintf("Profile %s: %s", eventType, profileID),
	})
}
