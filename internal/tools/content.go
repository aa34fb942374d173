package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

// ContentResult is the common result shape of the lecture/reading/assignment
// content tools. Source records which path produced the text ("api" or
// "render"); the upstream probing order is a heuristic, not a guarantee.
type ContentResult struct {
	CourseSlug string `json:"course_slug"`
	ItemID     string `json:"item_id"`
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Text       string `json:"text"`
}

func contentArgsSchema() *jsonschema.Schema {
	return objectSchema(map[string]*jsonschema.Schema{
		"course_slug": stringSchema("Course slug as it appears in coursera.org/learn/<slug>", 1, 256),
		"item_id":     stringSchema("Material item id from get_course", 1, 128),
	}, "course_slug", "item_id")
}

func (t *Toolset) getLectureTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_lecture",
		Description: "Fetch the transcript of a lecture item. Uses the subtitle asset when available, otherwise renders the lecture page.",
		InputSchema: contentArgsSchema(),
		Handler:     t.getLecture,
	}
}

func (t *Toolset) getLecture(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")
	itemID := argString(args, "item_id")

	course, err := t.api.CourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	// Subtitle asset first: one API round trip and clean text.
	text, err := t.api.LectureSubtitle(ctx, course.ID, itemID)
	if err == nil && len(text) >= minPlausibleTextLen {
		return &ContentResult{CourseSlug: slug, ItemID: itemID, Kind: "lecture", Source: "api", Text: text}, nil
	}

	return t.renderContent(ctx, slug, itemID, "lecture",
		[]string{fmt.Sprintf("%s/learn/%s/lecture/%s", t.siteURL, slug, itemID)},
		[]string{".rc-Transcript", ".rc-VideoItem", "main"})
}

func (t *Toolset) getReadingTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_reading",
		Description: "Fetch the text of a reading (supplement) item. Tries the supplement API first, then renders the page.",
		InputSchema: contentArgsSchema(),
		Handler:     t.getReading,
	}
}

func (t *Toolset) getReading(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")
	itemID := argString(args, "item_id")

	course, err := t.api.CourseBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if assets, err := t.api.SupplementAssets(ctx, course.ID, itemID); err == nil {
		var text string
		for _, asset := range assets {
			if part := cmlText(asset.Definition); part != "" {
				if text != "" {
					text += "\n\n"
				}
				text += part
			}
		}
		if len(text) >= minPlausibleTextLen {
			return &ContentResult{CourseSlug: slug, ItemID: itemID, Kind: "reading", Source: "api", Text: text}, nil
		}
	}

	return t.renderContent(ctx, slug, itemID, "reading",
		[]string{fmt.Sprintf("%s/learn/%s/supplement/%s", t.siteURL, slug, itemID)},
		[]string{".rc-CML", ".item-page-content", "main"})
}

func (t *Toolset) getAssignmentTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "get_assignment",
		Description: "Fetch the prompt/instructions of an assignment item. Probes the known assignment page variants in order.",
		InputSchema: contentArgsSchema(),
		Handler:     t.getAssignment,
	}
}

func (t *Toolset) getAssignment(ctx context.Context, args map[string]any) (any, error) {
	slug := argString(args, "course_slug")
	itemID := argString(args, "item_id")

	// Assignment items live under several page kinds depending on grading
	// type; probe them in order and accept the first plausible body.
	var candidates []string
	for _, kind := range []string{"assignment-submission", "peer", "programming", "quiz", "exam"} {
		candidates = append(candidates, fmt.Sprintf("%s/learn/%s/%s/%s", t.siteURL, slug, kind, itemID))
	}
	return t.renderContent(ctx, slug, itemID, "assignment", candidates,
		[]string{".rc-FormPartsQuestion", ".rc-CML", ".assignment-instructions", "main"})
}

// renderContent walks candidate URLs through the browser, extracting text
// with the given selectors, and accepts the first render whose text clears
// the plausibility threshold. The last extraction is returned as a best
// effort when nothing clears it.
func (t *Toolset) renderContent(ctx context.Context, slug, itemID, kind string, candidateURLs, selectors []string) (any, error) {
	var lastText string
	var lastErr error
	for _, pageURL := range candidateURLs {
		html, err := t.renderer.Render(ctx, pageURL, selectors[0])
		if err != nil {
			lastErr = err
			continue
		}
		text, ok := extractText(html, selectors, minPlausibleTextLen)
		if ok {
			return &ContentResult{CourseSlug: slug, ItemID: itemID, Kind: kind, Source: "render", Text: text}, nil
		}
		if len(text) > len(lastText) {
			lastText = text
		}
	}
	if lastText != "" {
		return &ContentResult{CourseSlug: slug, ItemID: itemID, Kind: kind, Source: "render", Text: lastText}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("failed to render %s %s/%s: %w", kind, slug, itemID, lastErr)
	}
	return nil, fmt.Errorf("no readable content found for %s %s/%s", kind, slug, itemID)
}
