package tools

import (
	"context"
	"time"

	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

// EnrollmentEntry is one enrolled course in a list_enrollments result.
type EnrollmentEntry struct {
	CourseID   string `json:"course_id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	PhotoURL   string `json:"photo_url,omitempty"`
	Role       string `json:"role,omitempty"`
	EnrolledAt string `json:"enrolled_at,omitempty"`
}

// EnrollmentsResult is the list_enrollments result document.
type EnrollmentsResult struct {
	Courses []EnrollmentEntry `json:"courses"`
}

func (t *Toolset) listEnrollmentsTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "list_enrollments",
		Description: "List the courses the authenticated learner is currently enrolled in.",
		InputSchema: objectSchema(nil),
		Handler:     t.listEnrollments,
	}
}

func (t *Toolset) listEnrollments(ctx context.Context, _ map[string]any) (any, error) {
	memberships, courses, err := t.api.Memberships(ctx)
	if err != nil {
		return nil, err
	}

	result := EnrollmentsResult{Courses: []EnrollmentEntry{}}
	for _, m := range memberships {
		entry := EnrollmentEntry{CourseID: m.CourseID, Role: m.CourseRole}
		if course, ok := courses[m.CourseID]; ok {
			entry.Slug = course.Slug
			entry.Name = course.Name
			entry.PhotoURL = course.PhotoURL
		}
		if m.EnrolledTimestamp > 0 {
			entry.EnrolledAt = time.UnixMilli(m.EnrolledTimestamp).UTC().Format(time.RFC3339)
		}
		result.Courses = append(result.Courses, entry)
	}
	return result, nil
}
