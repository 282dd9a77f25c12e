package runner

import (
	"encoding/json"
	"log"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger records every execution start, stop and exit to a
// rotated JSON-lines file.
type AuditLogger struct {
	logger *log.Logger
}

func NewAuditLogger(logPath string) *AuditLogger {
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	return &AuditLogger{logger: log.New(writer, "", 0)}
}

func (a *AuditLogger) write(record map[string]interface{}) {
	if a == nil {
		return
	}
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(record)
	a.logger.Println(string(data))
}

func (a *AuditLogger) LogRunStarted(docID, language, image string) {
	a.write(map[string]interface{}{
		"event":    "run_started",
		"file_id":  docID,
		"language": language,
		"image":    image,
	})
}

func (a *AuditLogger) LogRunEnded(docID string, exitCode int, duration time.Duration, forced bool) {
	a.write(map[string]interface{}{
		"event":       "run_ended",
		"file_id":     docID,
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
		"forced":      forced,
	})
}

func (a *AuditLogger) LogRunRejected(docID, reason string) {
	a.write(map[string]interface{}{
		"event":   "run_rejected",
		"file_id": docID,
		"reason":  reason,
	})
}
