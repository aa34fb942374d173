package tools

import (
	"context"
	"sort"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

// maxDeadlineCourses bounds upstream fan-out when no course is specified.
const maxDeadlineCourses = 5

// DeadlinesResult is the get_deadlines result document, sorted by due time.
type DeadlinesResult struct {
	Deadlines []DeadlineEntry `json:"deadlines"`
}

type DeadlineEntry struct {
	CourseSlug string `json:"course_slug"`
	CourseName string `json:"course_name,omitempty"`
	ModuleID   string `json:"module_id,omitempty"`
	ModuleName string `json:"module_name,omitempty"`
	DueAt      string `json:"due_at"`
}

func (t *Toolset) getDeadlinesTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_deadlines",
		Description: "List upcoming deadlines, for one course or across current enrollments.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"course_slug": stringSchema("Restrict to one course; omit for all current enrollments", 1, 256),
		}),
		Handler: t.getDeadlines,
	}
}

func (t *Toolset) getDeadlines(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")
	now := time.Now()
	result := DeadlinesResult{Deadlines: []DeadlineEntry{}}

	if slug != "" {
		entries, err := t.courseDeadlines(ctx, slug, now)
		if err != nil {
			return nil, err
		}
		result.Deadlines = entries
	} else {
		memberships, courses, err := t.api.Memberships(ctx)
		if err != nil {
			return nil, err
		}
		seen := 0
		for _, m := range memberships {
			course, ok := courses[m.CourseID]
			if !ok || course.Slug == "" {
				continue
			}
			if seen >= maxDeadlineCourses {
				break
			}
			seen++
			schedule, err := t.api.CourseSchedule(ctx, m.CourseID)
			if err != nil {
				// One inaccessible course must not hide the rest.
				continue
			}
			for _, week := range schedule.Weeks {
				if entry, ok := weekEntry(course.Slug, course.Name, "", week.ModuleID, week.EndsAt, now); ok {
					result.Deadlines = append(result.Deadlines, entry)
				}
			}
		}
	}

	sort.Slice(result.Deadlines, func(i, j int) bool {
		return result.Deadlines[i].DueAt < result.Deadlines[j].DueAt
	})
	return result, nil
}

// courseDeadlines fetches one course's schedule with module names resolved
// from the material tree.
func (t *Toolset) courseDeadlines(ctx context.Context, slug string, now time.Time) ([]DeadlineEntry, error) {
	course, err := t.api.CourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	materials, err := t.api.MaterialsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	schedule, err := t.api.CourseSchedule(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	moduleNames := make(map[string]string, len(materials.Modules))
	for _, m := range materials.Modules {
		moduleNames[m.ID] = m.Name
	}

	entries := []DeadlineEntry{}
	for _, week := range schedule.Weeks {
		if entry, ok := weekEntry(slug, course.Name, moduleNames[week.ModuleID], week.ModuleID, week.EndsAt, now); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// weekEntry converts one schedule week into a deadline entry, dropping
// deadlines already past.
func weekEntry(slug, courseName, moduleName, moduleID string, endsAt int64, now time.Time) (DeadlineEntry, bool) {
	if endsAt <= 0 {
		return DeadlineEntry{}, false
	}
	due := time.UnixMilli(endsAt).UTC()
	if due.Before(now) {
		return DeadlineEntry{}, false
	}
	return DeadlineEntry{
		CourseSlug: slug,
		CourseName: courseName,
		ModuleID:   moduleID,
		ModuleName: moduleName,
		DueAt:      due.Format(time.RFC3339),
	}, true
}
