// Package tools builds the fixed tool registry backed by Coursera. Every
// session gets its own Toolset: its own upstream client and its own
// lazily-launched browser handle, torn down together when the session closes.
package tools

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/anshpay/CourseraMCP-Poke/internal/browser"
	"github.com/anshpay/CourseraMCP-Poke/internal/config"
	"github.com/anshpay/CourseraMCP-Poke/internal/coursera"
	"github.com/anshpay/CourseraMCP-Poke/internal/mcpserver"
)

const defaultSiteURL = "https://www.coursera.org"

// minPlausibleTextLen is the acceptance threshold for the candidate-fallback
// content heuristics: shorter extractions are treated as a miss and the next
// candidate (or the browser) is tried.
const minPlausibleTextLen = 120

// Toolset implements mcpserver.Toolset for one session.
type Toolset struct {
	api      *coursera.Client
	renderer browser.Renderer
	registry *mcpserver.Registry
	siteURL  string
}

var _ mcpserver.Toolset = (*Toolset)(nil)

// New builds a production Toolset from config.
func New(cfg *config.Config) (*Toolset, error) {
	api := coursera.New(cfg.CAUTH, coursera.Options{
		Timeout:      cfg.UpstreamTimeout,
		AllowedHosts: cfg.AllowedHosts,
	})
	renderer := browser.New(cfg.CAUTH, cfg.ChromePath, cfg.BrowserTimeout)
	return NewWithDeps(api, renderer, defaultSiteURL)
}

// NewWithDeps wires an explicit client and renderer; tests inject fakes here.
func NewWithDeps(api *coursera.Client, renderer browser.Renderer, siteURL string) (*Toolset, error) {
	if siteURL == "" {
		siteURL = defaultSiteURL
	}
	t := &Toolset{api: api, renderer: renderer, siteURL: siteURL}

	registry, err := mcpserver.NewRegistry(
		t.listEnrollmentsTool(),
		t.getCourseTool(),
		t.getLectureTool(),
		t.getReadingTool(),
		t.getAssignmentTool(),
		t.getProgressTool(),
		t.searchCoursesTool(),
		t.getDeadlinesTool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	t.registry = registry
	return t, nil
}

// Registry exposes the session's tool table.
func (t *Toolset) Registry() *mcpserver.Registry { return t.registry }

// Close releases session resources, in particular the browser handle if one
// was ever launched.
func (t *Toolset) Close() error {
	if t.renderer == nil {
		return nil
	}
	return t.renderer.Close()
}

// Factory adapts New into the dispatcher's session factory.
func Factory(cfg *config.Config) mcpserver.Factory {
	return func() (mcpserver.Toolset, error) {
		return New(cfg)
	}
}

// --- schema helpers ---

var noExtraProps = &jsonschema.Schema{Not: &jsonschema.Schema{}}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: noExtraProps,
	}
}

func stringSchema(desc string, minLen, maxLen int) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string", Description: desc}
	if minLen > 0 {
		s.MinLength = intPtr(minLen)
	}
	if maxLen > 0 {
		s.MaxLength = intPtr(maxLen)
	}
	return s
}

func intSchema(desc string, min, max float64) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "integer",
		Description: desc,
		Minimum:     floatPtr(min),
		Maximum:     floatPtr(max),
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// --- argument helpers ---

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
