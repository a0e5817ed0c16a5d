package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	JobID      optional[string] // bisect.job.id
	Revision   optional[string] // bisect.revision
	BuildName  optional[string] // bisect.build.name
	Candidates optional[int]    // bisect.candidates
	Outcome    optional[string] // bisect.outcome
	Verdict    optional[string] // bisect.verdict
	Cached     optional[bool]   // bisect.build.cached

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no action category; fill it in later.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies the fields of other that are unset here. ActionCategory is
// always taken from other when present.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.JobID, &other.JobID)
	mergeOptional(&o.Revision, &other.Revision)
	mergeOptional(&o.BuildName, &other.BuildName)
	mergeOptional(&o.Candidates, &other.Candidates)
	mergeOptional(&o.Outcome, &other.Outcome)
	mergeOptional(&o.Verdict, &other.Verdict)
	mergeOptional(&o.Cached, &other.Cached)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithJobID(val string) *SpanAttributes {
	o.JobID.Set(val)
	return o
}

func (o *SpanAttributes) WithRevision(val string) *SpanAttributes {
	o.Revision.Set(val)
	return o
}

func (o *SpanAttributes) WithBuildName(val string) *SpanAttributes {
	o.BuildName.Set(val)
	return o
}

func (o *SpanAttributes) WithCandidates(val int) *SpanAttributes {
	o.Candidates.Set(val)
	return o
}

func (o *SpanAttributes) WithOutcome(val string) *SpanAttributes {
	o.Outcome.Set(val)
	return o
}

func (o *SpanAttributes) WithVerdict(val string) *SpanAttributes {
	o.Verdict.Set(val)
	return o
}

func (o *SpanAttributes) WithCached(val bool) *SpanAttributes {
	o.Cached.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("bisect.action.category", o.ActionCategory))
	if o.JobID.set {
		attrs = append(attrs, attribute.String("bisect.job.id", o.JobID.val))
	}
	if o.Revision.set {
		attrs = append(attrs, attribute.String("bisect.revision", o.Revision.val))
	}
	if o.BuildName.set {
		attrs = append(attrs, attribute.String("bisect.build.name", o.BuildName.val))
	}
	if o.Candidates.set {
		attrs = append(attrs, attribute.Int("bisect.candidates", o.Candidates.val))
	}
	if o.Outcome.set {
		attrs = append(attrs, attribute.String("bisect.outcome", o.Outcome.val))
	}
	if o.Verdict.set {
		attrs = append(attrs, attribute.String("bisect.verdict", o.Verdict.val))
	}
	if o.Cached.set {
		attrs = append(attrs, attribute.Bool("bisect.build.cached", o.Cached.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
