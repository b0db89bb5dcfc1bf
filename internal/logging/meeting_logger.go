package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MeetingLogger manages the plain-text trace for a single conversation run.
// Each run owns its own logger; concurrent runs never share one.
type MeetingLogger struct {
	conversationID string
	logFile        *os.File
	mutex          sync.Mutex
	startTime      time.Time
	echoConsole    bool
}

// StartMeetingLogging creates the trace file for a run under dir.
// If echoConsole is set, every line is mirrored to stdout.
func StartMeetingLogging(dir, conversationID string, echoConsole bool) (*MeetingLogger, error) {
	if dir == "" {
		dir = "meeting_logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	logPath := filepath.Join(dir, fmt.Sprintf("meeting_%s_%s.log", shortID(conversationID), timestamp))

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &MeetingLogger{
		conversationID: conversationID,
		logFile:        logFile,
		startTime:      time.Now(),
		echoConsole:    echoConsole,
	}
	logger.writeHeader()

	return logger, nil
}

// Log writes a timestamped message to the meeting trace
func (m *MeetingLogger) Log(format string, args ...interface{}) {
	if m == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(m.startTime)
	logMessage := fmt.Sprintf(format, args...)

	message := fmt.Sprintf("[%s] [+%v] %s\n", timestamp, elapsed.Round(time.Millisecond), logMessage)
	m.logFile.WriteString(message)
	m.logFile.Sync()

	if m.echoConsole {
		fmt.Printf("[MEETING LOG] %s", message)
	}
}

// LogSection writes a section header to the trace
func (m *MeetingLogger) LogSection(title string) {
	if m == nil {
		return
	}

	separator := strings.Repeat("=", 80)
	m.Log(separator)
	m.Log("= %s", title)
	m.Log(separator)
}

// LogPrompt logs the prompt sent on behalf of a speaker
func (m *MeetingLogger) LogPrompt(speaker, model, prompt string) {
	if m == nil {
		return
	}

	m.LogSection(fmt.Sprintf("PROMPT - %s", speaker))
	m.Log("Model: %s", model)
	m.Log("Prompt length: %d characters", len(prompt))
	m.Log("--- PROMPT START ---")
	m.logFile.WriteString(prompt + "\n")
	m.Log("--- PROMPT END ---")
}

// LogResponse logs a speaker's generated (or cached) reply
func (m *MeetingLogger) LogResponse(speaker, response string, cacheHit bool) {
	if m == nil {
		return
	}

	source := "generated"
	if cacheHit {
		source = "cache"
	}
	m.LogSection(fmt.Sprintf("RESPONSE - %s (%s)", speaker, source))
	m.Log("Response length: %d characters", len(response))
	m.Log("--- RESPONSE START ---")
	m.logFile.WriteString(response + "\n")
	m.Log("--- RESPONSE END ---")
}

// LogError logs an error with its surrounding context
func (m *MeetingLogger) LogError(context string, err error) {
	if m == nil {
		return
	}

	m.Log("ERROR in %s: %v", context, err)
}

// Path returns the trace file location, or "" when the logger is nil
func (m *MeetingLogger) Path() string {
	if m == nil || m.logFile == nil {
		return ""
	}
	return m.logFile.Name()
}

// Close finalizes the trace file
func (m *MeetingLogger) Close() {
	if m == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.logFile != nil {
		// Write final message directly without using m.Log() to avoid deadlock
		timestamp := time.Now().Format("15:04:05.000")
		finalMessage := fmt.Sprintf("[%s] Meeting logging completed. Total duration: %v\n",
			timestamp, time.Since(m.startTime).Round(time.Millisecond))
		m.logFile.WriteString(finalMessage)
		m.logFile.Sync()

		m.logFile.Close()
		m.logFile = nil

		if m.echoConsole {
			fmt.Printf("[MEETING LOG] %s", finalMessage)
		}
	}
}

func (m *MeetingLogger) writeHeader() {
	header := fmt.Sprintf(`AIDEEPSPEAK MEETING LOG
Conversation ID: %s
Start Time: %s
Log Format: [HH:MM:SS.mmm] [+duration] message

`, m.conversationID, m.startTime.Format("2006-01-02 15:04:05"))

	m.logFile.WriteString(header)
	m.logFile.Sync()
}

// shortID trims a uuid-style id down to its first segment for file names
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
