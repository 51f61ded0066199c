package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for structured audit logging of the monitor's
// own operation (dropped events, engine failures, emitted results) as
// distinct from the detection results the monitor produces about traffic.
type Logger interface {
	Log(ctx context.Context, event *Event) error

	LogEventIngested(ctx context.Context, rawEventID string) error
	LogEventDropped(ctx context.Context, reason string) error
	LogPersistFailed(ctx context.Context, rawEventID string, err error) error
	LogCatalogInserted(ctx context.Context, mcpTag string, count int) error

	LogEngineError(ctx context.Context, engine, rawEventID string, err error) error
	LogResultEmitted(ctx context.Context, engine, rawEventID, severity string) error
	LogRateLimitRetry(ctx context.Context, engine string, attempt int, wait time.Duration) error
	LogRateLimitExhausted(ctx context.Context, engine string) error

	// Sync flushes buffered log entries.
	Sync() error

	// Close closes the audit logger.
	Close() error
}

// Config represents audit logger configuration.
type Config struct {
	AuditLogPath string
	AppLogPath   string
	MaxSize      int
	MaxBackups   int
	MaxAge       int
	Compress     bool
	LogLevel     string
}

// DefaultConfig returns default audit logger configuration.
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements Logger with a two-sink split: a leveled application
// logger for operational diagnostics, and an always-INFO, append-only audit
// logger for the structured record of monitor behavior.
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	appCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(appRotator), level)
	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	auditCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(auditRotator), zapcore.InfoLevel)
	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}
	return nil
}

func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogEventIngested(ctx context.Context, rawEventID string) error {
	event := NewEvent(EventIngested).
		WithRawEventID(rawEventID).
		WithResult(ResultSuccess)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogEventDropped(ctx context.Context, reason string) error {
	event := NewEvent(EventDropped).
		WithResult(ResultDropped).
		WithDescription(reason)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogPersistFailed(ctx context.Context, rawEventID string, err error) error {
	event := NewEvent(EventPersistFailed).
		WithRawEventID(rawEventID).
		WithError(err, "persist_error")
	return l.Log(ctx, event)
}

func (l *auditLogger) LogCatalogInserted(ctx context.Context, mcpTag string, count int) error {
	event := NewEvent(EventCatalogInserts).
		WithResult(ResultSuccess).
		WithMetadata("mcp_tag", mcpTag).
		WithMetadata("count", count).
		WithDescription(fmt.Sprintf("%d new tool descriptors cataloged for %s", count, mcpTag))
	return l.Log(ctx, event)
}

func (l *auditLogger) LogEngineError(ctx context.Context, engine, rawEventID string, err error) error {
	event := NewEvent(EventEngineError).
		WithEngine(engine).
		WithRawEventID(rawEventID).
		WithError(err, "engine_error")
	return l.Log(ctx, event)
}

func (l *auditLogger) LogResultEmitted(ctx context.Context, engine, rawEventID, severity string) error {
	event := NewEvent(EventResultEmitted).
		WithEngine(engine).
		WithRawEventID(rawEventID).
		WithResult(ResultSuccess).
		WithMetadata("severity", severity)
	return l.Log(ctx, event)
}

func (l *auditLogger) LogRateLimitRetry(ctx context.Context, engine string, attempt int, wait time.Duration) error {
	event := NewEvent(EventRateLimitRetry).
		WithEngine(engine).
		WithResult(ResultPending).
		WithMetadata("attempt", attempt).
		WithMetadata("wait_ms", wait.Milliseconds())
	return l.Log(ctx, event)
}

func (l *auditLogger) LogRateLimitExhausted(ctx context.Context, engine string) error {
	event := NewEvent(EventRateLimitGiveUp).
		WithEngine(engine).
		WithResult(ResultFailure)
	return l.Log(ctx, event)
}

// Sync flushes buffered log entries.
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if err := l.auditLogger.Sync(); err != nil {
		return err
	}
	return l.appLogger.Sync()
}

// Close closes the audit logger.
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()
	return l.Sync()
}

type correlationIDKey struct{}

// GetCorrelationID extracts correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID.
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
