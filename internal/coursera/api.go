package coursera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Memberships lists the learner's current enrollments together with the
// linked course summaries, keyed by course id.
func (c *Client) Memberships(ctx context.Context) ([]Membership, map[string]Course, error) {
	var env envelope
	q := "memberships.v1?q=me&showHidden=false&filter=current&includes=courseId" +
		"&fields=courseId,enrolledTimestamp,courseRole,courses.v1(slug,name,photoUrl)"
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, nil, err
	}

	var memberships []Membership
	if len(env.Elements) > 0 {
		if err := json.Unmarshal(env.Elements, &memberships); err != nil {
			return nil, nil, fmt.Errorf("failed to decode memberships: %w", err)
		}
	}

	courses := make(map[string]Course)
	if raw, ok := env.Linked["courses.v1"]; ok {
		var linked []Course
		if err := json.Unmarshal(raw, &linked); err == nil {
			for _, course := range linked {
				courses[course.ID] = course
			}
		}
	}
	return memberships, courses, nil
}

// CourseBySlug fetches course metadata for one slug.
func (c *Client) CourseBySlug(ctx context.Context, slug string) (*Course, error) {
	var env envelope
	q := "onDemandCourses.v1?q=slug&slug=" + url.QueryEscape(slug) +
		"&fields=slug,name,description,photoUrl,workload,primaryLanguages,partnerIds"
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, err
	}
	var elements []Course
	if err := json.Unmarshal(env.Elements, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode course: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("no course found for slug %q", slug)
	}
	return &elements[0], nil
}

// MaterialsBySlug fetches the module/lesson/item tree for a course.
func (c *Client) MaterialsBySlug(ctx context.Context, slug string) (*Materials, error) {
	var env envelope
	q := "onDemandCourseMaterials.v2?q=slug&slug=" + url.QueryEscape(slug) +
		"&includes=modules,lessons,items" +
		"&fields=onDemandCourseMaterialModules.v1(name,slug,description,lessonIds)," +
		"onDemandCourseMaterialLessons.v1(name,slug,itemIds)," +
		"onDemandCourseMaterialItems.v2(name,slug,moduleId,lessonId,contentSummary)"
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, err
	}

	out := &Materials{
		Lessons: make(map[string]MaterialLesson),
		Items:   make(map[string]MaterialItem),
	}
	if raw, ok := env.Linked["onDemandCourseMaterialModules.v1"]; ok {
		if err := json.Unmarshal(raw, &out.Modules); err != nil {
			return nil, fmt.Errorf("failed to decode modules: %w", err)
		}
	}
	if raw, ok := env.Linked["onDemandCourseMaterialLessons.v1"]; ok {
		var lessons []MaterialLesson
		if err := json.Unmarshal(raw, &lessons); err != nil {
			return nil, fmt.Errorf("failed to decode lessons: %w", err)
		}
		for _, l := range lessons {
			out.Lessons[l.ID] = l
		}
	}
	if raw, ok := env.Linked["onDemandCourseMaterialItems.v2"]; ok {
		var items []MaterialItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
		for _, it := range items {
			out.Items[it.ID] = it
		}
	}
	return out, nil
}

// LectureSubtitle fetches the plain-text subtitle track for a lecture item,
// preferring English. Returns empty text (not an error) when the lecture has
// no subtitle asset; callers fall back to a page render.
func (c *Client) LectureSubtitle(ctx context.Context, courseID, itemID string) (string, error) {
	var env envelope
	q := fmt.Sprintf("onDemandLectureVideos.v1/%s~%s?includes=video&fields=onDemandVideos.v1(subtitlesTxt,subtitlesVtt)",
		url.PathEscape(courseID), url.PathEscape(itemID))
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return "", err
	}

	raw, ok := env.Linked["onDemandVideos.v1"]
	if !ok {
		return "", nil
	}
	var videos []VideoMeta
	if err := json.Unmarshal(raw, &videos); err != nil || len(videos) == 0 {
		return "", nil
	}

	path := pickSubtitle(videos[0].SubtitlesTxt)
	isVTT := false
	if path == "" {
		path = pickSubtitle(videos[0].SubtitlesVtt)
		isVTT = true
	}
	if path == "" {
		return "", nil
	}

	body, err := c.GetRaw(ctx, path)
	if err != nil {
		return "", err
	}
	text := string(body)
	if isVTT {
		text = stripVTT(text)
	}
	return strings.TrimSpace(text), nil
}

// pickSubtitle prefers English tracks, then falls back to any language.
func pickSubtitle(tracks map[string]string) string {
	for _, lang := range []string{"en", "en-US"} {
		if p := tracks[lang]; p != "" {
			return p
		}
	}
	for _, p := range tracks {
		if p != "" {
			return p
		}
	}
	return ""
}

var vttCueLine = regexp.MustCompile(`^(WEBVTT|NOTE\b.*|\d+|\s*)$|-->`)

// stripVTT drops WEBVTT headers, cue numbers and timestamps, keeping caption
// text only.
func stripVTT(vtt string) string {
	var out []string
	for _, line := range strings.Split(vtt, "\n") {
		line = strings.TrimRight(line, "\r")
		if vttCueLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// SupplementAssets fetches the linked reading assets for a supplement item.
func (c *Client) SupplementAssets(ctx context.Context, courseID, itemID string) ([]SupplementAsset, error) {
	var env envelope
	q := fmt.Sprintf("onDemandSupplements.v1/%s~%s?includes=asset&fields=openCourseAssets.v1(typeName,definition)",
		url.PathEscape(courseID), url.PathEscape(itemID))
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, err
	}
	raw, ok := env.Linked["openCourseAssets.v1"]
	if !ok {
		return nil, nil
	}
	var assets []SupplementAsset
	if err := json.Unmarshal(raw, &assets); err != nil {
		return nil, fmt.Errorf("failed to decode supplement assets: %w", err)
	}
	return assets, nil
}

// CourseProgress fetches the learner's per-item progress for a course.
func (c *Client) CourseProgress(ctx context.Context, courseID string) (*Progress, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}
	var env envelope
	q := fmt.Sprintf("onDemandCourseProgress.v2/%s~%s?fields=contentProgress,passed",
		url.PathEscape(userID), url.PathEscape(courseID))
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, err
	}
	var elements []Progress
	if err := json.Unmarshal(env.Elements, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	if len(elements) == 0 {
		return &Progress{ContentProgress: map[string]ItemProgress{}}, nil
	}
	if elements[0].ContentProgress == nil {
		elements[0].ContentProgress = map[string]ItemProgress{}
	}
	return &elements[0], nil
}

// CourseSchedule fetches the learner's deadline schedule for a course.
func (c *Client) CourseSchedule(ctx context.Context, courseID string) (*Schedule, error) {
	userID, err := c.UserID(ctx)
	if err != nil {
		return nil, err
	}
	var env envelope
	q := fmt.Sprintf("learnerCourseSchedules.v1/%s~%s?fields=startedAt,endsAt,weeks",
		url.PathEscape(userID), url.PathEscape(courseID))
	if err := c.GetJSON(ctx, q, &env); err != nil {
		return nil, err
	}
	var elements []Schedule
	if err := json.Unmarshal(env.Elements, &elements); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if len(elements) == 0 {
		return &Schedule{}, nil
	}
	return &elements[0], nil
}

const searchGraphQL = `query Search($query: String!, $limit: Int!) {
  SearchResult {
    search(query: $query, limit: $limit) {
      elements {
        id name slug partnerName avgProductRating entityType difficulty duration imageUrl
      }
    }
  }
}`

// SearchCatalog runs a catalog search through the graphql gateway.
func (c *Client) SearchCatalog(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	payload := []map[string]any{{
		"operationName": "Search",
		"variables":     map[string]any{"query": query, "limit": limit},
		"query":         searchGraphQL,
	}}

	var resp []struct {
		Data struct {
			SearchResult struct {
				Search struct {
					Elements []SearchHit `json:"elements"`
				} `json:"search"`
			} `json:"SearchResult"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.PostGraphQL(ctx, "Search", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, nil
	}
	if len(resp[0].Errors) > 0 {
		return nil, fmt.Errorf("catalog search failed: %s", resp[0].Errors[0].Message)
	}
	hits := resp[0].Data.SearchResult.Search.Elements
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
