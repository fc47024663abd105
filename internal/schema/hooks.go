package schema

import "context"

// Stage is a point in the write pipeline at which hooks run.
// Every backend calls the stages in this order for each written record:
// BeforeValidate, field validation, BeforeWrite, native write, AfterWrite.
type Stage string

const (
	BeforeValidate Stage = "beforeValidate"
	BeforeWrite    Stage = "beforeWrite"
	AfterWrite     Stage = "afterWrite"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{BeforeValidate, BeforeWrite, AfterWrite}

// Hook runs at a lifecycle stage. It may mutate rec in place; an error aborts the write.
type Hook func(ctx context.Context, rec Record) error

// HookBinding attaches a hook to a stage by name. The name may be a stage name or one
// of the legacy aliases accepted by ParseStage.
type HookBinding struct {
	On string
	Fn Hook
}

var stageAliases = map[string]Stage{
	"beforeValidate": BeforeValidate,
	"validate":       BeforeValidate,
	"preValidate":    BeforeValidate,
	"beforeWrite":    BeforeWrite,
	"save":           BeforeWrite,
	"preSave":        BeforeWrite,
	"beforeSave":     BeforeWrite,
	"afterWrite":     AfterWrite,
	"afterSave":      AfterWrite,
	"postSave":       AfterWrite,
}

// ParseStage resolves a hook name to its stage.
func ParseStage(name string) (Stage, bool) {
	s, ok := stageAliases[name]
	return s, ok
}
