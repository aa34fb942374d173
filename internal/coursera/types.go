package coursera

import "encoding/json"

// envelope is the `{"elements": [...], "linked": {...}}` wrapper Coursera's
// naptime-style endpoints return. Linked resources arrive keyed by resource
// name ("courses.v1" and friends). Unknown fields are ignored on purpose;
// the upstream shape is not contractually stable.
type envelope struct {
	Elements json.RawMessage            `json:"elements"`
	Linked   map[string]json.RawMessage `json:"linked"`
}

// Membership is one enrollment record from memberships.v1.
type Membership struct {
	ID                string `json:"id"`
	CourseID          string `json:"courseId"`
	CourseRole        string `json:"courseRole"`
	EnrolledTimestamp int64  `json:"enrolledTimestamp"`
}

// Course is the course summary linked from memberships and returned by
// onDemandCourses.v1.
type Course struct {
	ID               string   `json:"id"`
	Slug             string   `json:"slug"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	PhotoURL         string   `json:"photoUrl"`
	Workload         string   `json:"workload"`
	PrimaryLanguages []string `json:"primaryLanguages"`
	PartnerIDs       []string `json:"partnerIds"`
}

// MaterialModule, MaterialLesson and MaterialItem form the course material
// tree from onDemandCourseMaterials.v2 (modules contain lessons contain
// items).
type MaterialModule struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	LessonIDs   []string `json:"lessonIds"`
}

type MaterialLesson struct {
	ID      string   `json:"id"`
	Slug    string   `json:"slug"`
	Name    string   `json:"name"`
	ItemIDs []string `json:"itemIds"`
}

type MaterialItem struct {
	ID             string          `json:"id"`
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	ModuleID       string          `json:"moduleId"`
	LessonID       string          `json:"lessonId"`
	ContentSummary json.RawMessage `json:"contentSummary"`
}

// ContentType digs the item kind ("lecture", "supplement", ...) out of the
// contentSummary blob. Empty string when the blob is absent or unrecognized.
func (m *MaterialItem) ContentType() string {
	if len(m.ContentSummary) == 0 {
		return ""
	}
	var summary struct {
		TypeName string `json:"typeName"`
	}
	if err := json.Unmarshal(m.ContentSummary, &summary); err != nil {
		return ""
	}
	return summary.TypeName
}

// Materials is the decoded course material tree.
type Materials struct {
	Modules []MaterialModule
	Lessons map[string]MaterialLesson
	Items   map[string]MaterialItem
}

// ItemProgress is one entry of a course progress report.
type ItemProgress struct {
	ProgressState string `json:"progressState"` // "Completed", "Started", ""
	Timestamp     int64  `json:"timestamp"`
}

// Progress is the per-item progress map for one learner/course pair.
type Progress struct {
	ContentProgress map[string]ItemProgress `json:"contentProgress"`
	Passed          bool                    `json:"passed"`
}

// ScheduleWeek is one period of a learner course schedule.
type ScheduleWeek struct {
	ModuleID string `json:"moduleId"`
	EndsAt   int64  `json:"endsAt"`
}

// Schedule is the learner's deadline schedule for one course.
type Schedule struct {
	StartedAt int64          `json:"startedAt"`
	EndsAt    int64          `json:"endsAt"`
	Weeks     []ScheduleWeek `json:"weeks"`
}

// SearchHit is a single catalog search result from the graphql gateway.
type SearchHit struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	Partner    string  `json:"partnerName"`
	AvgRating  float64 `json:"avgProductRating"`
	EntityType string  `json:"entityType"`
	Difficulty string  `json:"difficulty"`
	Duration   string  `json:"duration"`
	ImageURL   string  `json:"imageUrl"`
}

// SupplementAsset is one openCourseAssets.v1 entry linked from a supplement
// item; Definition carries CML markup with the actual reading body.
type SupplementAsset struct {
	ID         string          `json:"id"`
	TypeName   string          `json:"typeName"`
	Definition json.RawMessage `json:"definition"`
}

// VideoMeta is the linked onDemandVideos.v1 record for a lecture; subtitle
// maps are keyed by language code and point at relative asset paths.
type VideoMeta struct {
	ID           string            `json:"id"`
	SubtitlesTxt map[string]string `json:"subtitlesTxt"`
	SubtitlesVtt map[string]string `json:"subtitlesVtt"`
}
