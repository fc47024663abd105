package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"regapi/internal/schema"
)

// Lifecycle runs an entity's hooks and field validation in the fixed stage order every
// backend shares: BeforeValidate, validation, BeforeWrite, (native write), AfterWrite.
type Lifecycle struct {
	entity *schema.Entity
	stages map[schema.Stage][]schema.Hook
}

// NewLifecycle binds the entity's hooks to stages. Hook names that resolve to no stage
// are logged and skipped rather than failing model creation.
func NewLifecycle(e *schema.Entity, log *zap.Logger) *Lifecycle {
	l := &Lifecycle{entity: e, stages: make(map[schema.Stage][]schema.Hook)}
	for _, b := range e.Hooks() {
		stage, ok := schema.ParseStage(b.On)
		if !ok {
			log.Warn("skipping unknown hook",
				zap.String("entity", e.Name()),
				zap.String("hook", b.On),
			)
			continue
		}
		if b.Fn == nil {
			continue
		}
		l.stages[stage] = append(l.stages[stage], b.Fn)
	}
	return l
}

// Prepare runs BeforeValidate, validation and BeforeWrite on a copy of rec and returns
// the record to persist.
func (l *Lifecycle) Prepare(ctx context.Context, rec schema.Record) (schema.Record, error) {
	rec = rec.Clone()
	if err := l.run(ctx, schema.BeforeValidate, rec); err != nil {
		return nil, err
	}
	out, err := l.entity.Validate(rec)
	if err != nil {
		return nil, err
	}
	if err := l.run(ctx, schema.BeforeWrite, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Written runs AfterWrite once the record is persisted.
func (l *Lifecycle) Written(ctx context.Context, rec schema.Record) error {
	return l.run(ctx, schema.AfterWrite, rec)
}

// Count returns how many hooks are bound to stage.
func (l *Lifecycle) Count(stage schema.Stage) int { return len(l.stages[stage]) }

func (l *Lifecycle) run(ctx context.Context, stage schema.Stage, rec schema.Record) error {
	for i, h := range l.stages[stage] {
		if err := h(ctx, rec); err != nil {
			return fmt.Errorf("%s hook %d on %s: %w", stage, i, l.entity.Name(), err)
		}
	}
	return nil
}
