package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autobisect/config"
	"autobisect/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// ParseLevel maps LOG_LEVEL to a zap level; unknown values mean info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// NewLogger builds a development logger at info and below, a production one
// above. With telemetry, every entry is also emitted as an OpenTelemetry log record.
func NewLogger(p LoggerParams) *zap.Logger {
	loggerCtx, cancel := context.WithCancel(context.Background())
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})

	level := ParseLevel(p.AppConfig.LogLevel)
	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if p.Telemetry == nil || p.Telemetry.GetLogger() == nil {
		lg, err := cfg.Build()
		if err != nil {
			return zap.NewExample()
		}
		return lg
	}

	lg, err := cfg.Build(
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:  core,
				telem: p.Telemetry,
				ctx:   loggerCtx,
				attrsBase: []attribute.KeyValue{
					attribute.String("bisect.action.name", "bisect_log"),
					attribute.String("service.name", p.AppConfig.ServiceName),
				},
			}
		}),
		zap.AddCaller(),
	)
	if err != nil {
		return zap.NewExample()
	}
	lg.Debug("logging to telemetry")
	return lg
}

// telemetryCore writes through the wrapped core and mirrors each entry into
// OpenTelemetry. Fields added with With are kept and exported too.
type telemetryCore struct {
	zapcore.Core
	telem     telemetry.Telemetry
	ctx       context.Context
	attrsBase []attribute.KeyValue
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	base := append([]attribute.KeyValue(nil), t.attrsBase...)
	for _, f := range fields {
		if attr, ok := attributeOf(f); ok {
			base = append(base, attr)
		}
	}
	return &telemetryCore{
		Core:      t.Core.With(fields),
		telem:     t.telem,
		ctx:       t.ctx,
		attrsBase: base,
	}
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}
	t.telem.GetLogger().Emit(t.ctx, t.record(ent, fields))
	return nil
}

func (t *telemetryCore) record(ent zapcore.Entry, fields []zapcore.Field) log.Record {
	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverity(severityOf(ent.Level))
	rec.SetSeverityText(ent.Level.String())

	for _, attr := range t.attrsBase {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}
	if ent.LoggerName != "" {
		rec.AddAttributes(log.String("logger.name", ent.LoggerName))
	}
	for _, f := range fields {
		if attr, ok := attributeOf(f); ok {
			rec.AddAttributes(log.KeyValueFromAttribute(attr))
		}
	}
	return rec
}

func severityOf(level zapcore.Level) log.Severity {
	switch level {
	case zapcore.DebugLevel:
		return log.SeverityDebug
	case zapcore.InfoLevel:
		return log.SeverityInfo
	case zapcore.WarnLevel:
		return log.SeverityWarn
	case zapcore.ErrorLevel:
		return log.SeverityError
	}
	return log.SeverityFatal
}

// attributeOf converts a zap field; skipped fields carry no value.
func attributeOf(f zapcore.Field) (attribute.KeyValue, bool) {
	switch f.Type {
	case zapcore.SkipType:
		return attribute.KeyValue{}, false
	case zapcore.BoolType:
		return attribute.Bool(f.Key, f.Integer != 0), true
	case zapcore.Float64Type, zapcore.Float32Type:
		enc := zapcore.NewMapObjectEncoder()
		f.AddTo(enc)
		if v, ok := enc.Fields[f.Key].(float64); ok {
			return attribute.Float64(f.Key, v), true
		}
		if v, ok := enc.Fields[f.Key].(float32); ok {
			return attribute.Float64(f.Key, float64(v)), true
		}
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return attribute.Int64(f.Key, f.Integer), true
	case zapcore.DurationType:
		return attribute.String(f.Key, time.Duration(f.Integer).String()), true
	case zapcore.StringType:
		return attribute.String(f.Key, f.String), true
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			return attribute.String(f.Key, err.Error()), true
		}
	}
	enc := zapcore.NewMapObjectEncoder()
	f.AddTo(enc)
	return attribute.String(f.Key, fmt.Sprint(enc.Fields[f.Key])), true
}
