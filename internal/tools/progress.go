package tools

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

// ProgressResult is the get_progress result document.
type ProgressResult struct {
	CourseSlug string           `json:"course_slug"`
	Completed  int              `json:"completed_items"`
	Total      int              `json:"total_items"`
	Passed     bool             `json:"passed"`
	Modules    []ModuleProgress `json:"modules"`
}

type ModuleProgress struct {
	ModuleID  string `json:"module_id"`
	Name      string `json:"name"`
	Completed int    `json:"completed_items"`
	Total     int    `json:"total_items"`
}

func (t *Toolset) getProgressTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_progress",
		Description: "Report the learner's completion state for a course, overall and per module.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"course_slug": stringSchema("Course slug as it appears in coursera.org/learn/<slug>", 1, 256),
		}, "course_slug"),
		Handler: t.getProgress,
	}
}

func (t *Toolset) getProgress(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")

	course, err := t.api.CourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	materials, err := t.api.MaterialsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	progress, err := t.api.CourseProgress(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	result := ProgressResult{
		CourseSlug: slug,
		Passed:     progress.Passed,
		Modules:    []ModuleProgress{},
	}

	perModule := make(map[string]*ModuleProgress, len(materials.Modules))
	for _, m := range materials.Modules {
		mp := &ModuleProgress{ModuleID: m.ID, Name: m.Name}
		perModule[m.ID] = mp
	}

	for _, item := range materials.Items {
		result.Total++
		mp := perModule[item.ModuleID]
		if mp != nil {
			mp.Total++
		}
		state := progress.ContentProgress[item.ID].ProgressState
		if strings.EqualFold(state, "Completed") {
			result.Completed++
			if mp != nil {
				mp.Completed++
			}
		}
	}

	// Keep module order as the course defines it.
	for _, m := range materials.Modules {
		result.Modules = append(result.Modules, *perModule[m.ID])
	}
	return result, nil
}
