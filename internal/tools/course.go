package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/coursera"
	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

// CourseResult is the get_course result: metadata plus the full
// module/lesson/item tree.
type CourseResult struct {
	CourseID    string       `json:"course_id"`
	Slug        string       `json:"slug"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Workload    string       `json:"workload,omitempty"`
	Languages   []string     `json:"languages,omitempty"`
	Modules     []ModuleNode `json:"modules"`
}

type ModuleNode struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Lessons     []LessonNode `json:"lessons"`
}

type LessonNode struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Items []ItemNode `json:"items"`
}

// ItemNode is a leaf of the material tree; Type is the upstream content kind
// ("lecture", "supplement", "quiz", ...).
type ItemNode struct {
	ID   string `json:"item_id"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

func (t *Toolset) getCourseTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_course",
		Description: "Fetch a course's metadata and its module/lesson/item material tree by slug.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"course_slug": stringSchema("Course slug as it appears in coursera.org/learn/<slug>", 1, 256),
		}, "course_slug"),
		Handler: t.getCourse,
	}
}

func (t *Toolset) getCourse(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")

	course, err := t.api.CourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	materials, err := t.api.MaterialsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	result := CourseResult{
		CourseID:    course.ID,
		Slug:        course.Slug,
		Name:        course.Name,
		Description: course.Description,
		Workload:    course.Workload,
		Languages:   course.PrimaryLanguages,
		Modules:     buildModuleTree(materials),
	}
	return result, nil
}

// buildModuleTree reassembles the flat linked maps into the nested tree the
// caller sees.
func buildModuleTree(materials *coursera.Materials) []ModuleNode {
	modules := make([]ModuleNode, 0, len(materials.Modules))
	for _, m := range materials.Modules {
		node := ModuleNode{ID: m.ID, Name: m.Name, Description: m.Description, Lessons: []LessonNode{}}
		for _, lessonID := range m.LessonIDs {
			lesson, ok := materials.Lessons[lessonID]
			if !ok {
				continue
			}
			lessonNode := LessonNode{ID: lesson.ID, Name: lesson.Name, Items: []ItemNode{}}
			for _, itemID := range lesson.ItemIDs {
				item, ok := materials.Items[itemID]
				if !ok {
					continue
				}
				lessonNode.Items = append(lessonNode.Items, ItemNode{
					ID:   item.ID,
					Slug: item.Slug,
					Name: item.Name,
					Type: item.ContentType(),
				})
			}
			node.Lessons = append(node.Lessons, lessonNode)
		}
		modules = append(modules, node)
	}
	return modules
}
