package validation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rendis/actionkit/internal/expressions"
	"github.com/rendis/actionkit/pkg/schema"
	"github.com/robfig/cron/v3"
)

// Compilers checks expressions without running them. Nil skips the checks.
type Compilers interface {
	CompileCondition(expression string) error
	CompileGuard(expression string) error
	CompileQuery(expression string) error
}

type engineCompilers struct{ e *expressions.Engines }

// EngineCompilers adapts an engine set to Compilers.
func EngineCompilers(e *expressions.Engines) Compilers { return engineCompilers{e} }

func (c engineCompilers) CompileCondition(expression string) error { return c.e.Expr.Compile(expression) }
func (c engineCompilers) CompileGuard(expression string) error     { return c.e.CEL.Compile(expression) }
func (c engineCompilers) CompileQuery(expression string) error     { return c.e.JQ.Compile(expression) }

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateSemantic checks references and expressions: unique ids, known
// children and roots, declared data keys, compilable conditions, guards and
// queries, parseable refresh schedules.
func validateSemantic(def *schema.MenuDefinition, compilers Compilers) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	byID := make(map[string]*schema.ActionDefinition, len(def.Actions))
	for i := range def.Actions {
		a := &def.Actions[i]
		if _, dup := byID[a.ID]; dup {
			result.Errorf(fmt.Sprintf("actions[%d].id", i), "duplicate action id %q", a.ID)
			continue
		}
		byID[a.ID] = a
	}

	if compilers != nil {
		for _, name := range sortedKeys(def.Data) {
			if err := compilers.CompileQuery(def.Data[name].Query); err != nil {
				result.Errorf("data."+name+".query", "%s", errMessage(err))
			}
		}
	}

	for _, name := range sortedKeys(def.Surfaces) {
		s := def.Surfaces[name]
		path := "surfaces." + name
		root, ok := byID[s.Root]
		switch {
		case !ok:
			result.Errorf(path+".root", "references unknown action %q", s.Root)
		case !root.Group:
			result.Errorf(path+".root", "root %q is not a group", s.Root)
		}
		if s.Refresh != "" {
			if _, err := cronParser.Parse(s.Refresh); err != nil {
				result.Errorf(path+".refresh", "invalid schedule %q: %v", s.Refresh, err)
			}
		}
		if s.Place == "" {
			result.Warnf(path+".place", "no place given; %q is used", schema.PlaceUnknown)
		}
	}

	for i := range def.Actions {
		validateActionSemantic(&def.Actions[i], fmt.Sprintf("actions[%d]", i), def, byID, compilers, result)
	}
	return result
}

func validateActionSemantic(a *schema.ActionDefinition, path string, def *schema.MenuDefinition,
	byID map[string]*schema.ActionDefinition, compilers Compilers, result *schema.ValidationResult) {
	for j, use := range a.Uses {
		if _, ok := def.Data[use]; !ok {
			result.Errorf(fmt.Sprintf("%s.uses[%d]", path, j), "references undeclared data key %q", use)
		}
	}
	for _, ref := range expressions.References(a.Text) {
		if !slices.Contains(a.Uses, ref) {
			result.Warnf(path+".text", "text refers to %q which is not in uses; it renders empty", ref)
		}
	}

	for j, child := range a.Children {
		if IsSeparatorRef(child) {
			continue
		}
		if _, ok := byID[child]; !ok {
			result.Errorf(fmt.Sprintf("%s.children[%d]", path, j), "references unknown action %q", child)
		}
	}

	if a.Group && a.HideIfEmpty && a.DisableIfEmpty {
		result.Warnf(path, "hide_if_empty and disable_if_empty both set; the group is disabled when empty")
	}
	if a.Group && !a.Popup && (a.HideIfEmpty || a.DisableIfEmpty || a.PerformIf != "") {
		result.Warnf(path, "empty-group policy only applies to popup groups")
	}

	if compilers == nil {
		return
	}
	conditions := []struct{ field, expr string }{
		{"visible", a.Visible}, {"enabled", a.Enabled}, {"selected", a.Selected},
	}
	for _, c := range conditions {
		if c.expr == "" {
			continue
		}
		if err := compilers.CompileCondition(c.expr); err != nil {
			result.Errorf(path+"."+c.field, "%s", errMessage(err))
		}
	}
	if a.PerformIf != "" {
		if err := compilers.CompileGuard(a.PerformIf); err != nil {
			result.Errorf(path+".perform_if", "%s", errMessage(err))
		}
	}
}

// IsSeparatorRef reports whether a child entry names a separator: "-" or
// "- Title".
func IsSeparatorRef(ref string) bool {
	return ref == schema.SeparatorRef || strings.HasPrefix(ref, schema.SeparatorRef+" ")
}

func errMessage(err error) string {
	var ae *schema.ActionError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
