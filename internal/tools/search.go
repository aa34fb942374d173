package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

const defaultSearchLimit = 10

// SearchResult is the search_courses result document.
type SearchResult struct {
	Query   string        `json:"query"`
	Results []SearchEntry `json:"results"`
}

type SearchEntry struct {
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	Partner    string  `json:"partner,omitempty"`
	Rating     float64 `json:"rating,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	Difficulty string  `json:"difficulty,omitempty"`
}

func (t *Toolset) searchCoursesTool() *mcpserver.Tool {
	return &mcpserver.Tool{
		Name:        "search_courses",
		Description: "Search the Coursera catalog.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"query": stringSchema("Free-text search query", 1, 256),
			"limit": intSchema("Maximum number of results (default 10)", 1, 50),
		}, "query"),
		Handler: t.searchCourses,
	}
}

func (t *Toolset) searchCourses(ctx context.Context, args map[string]any) (any, error) {
	query := argString(args, "query")
	limit := argInt(args, "limit", defaultSearchLimit)

	hits, err := t.api.SearchCatalog(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	result := SearchResult{Query: query, Results: []SearchEntry{}}
	for _, hit := range hits {
		result.Results = append(result.Results, SearchEntry{
			Name:       hit.Name,
			Slug:       hit.Slug,
			Partner:    hit.Partner,
			Rating:     hit.AvgRating,
			EntityType: hit.EntityType,
			Difficulty: hit.Difficulty,
		})
	}
	return result, nil
}
