// Package prompt renders the instruction strings used by every model call in the
// research pipeline. Templates are YAML entries baked into the binary with go:embed;
// an alternate corpus (another language, a tuned wording) can be loaded from any fs.FS.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"text/template"

	"deepresearch/internal/logging"

	"gopkg.in/yaml.v3"
)

// embeddedTemplates contains all YAML files from templates/ baked into the binary.
//
//go:embed templates
var embeddedTemplates embed.FS

// Template ids every corpus must define.
const (
	IDSystem                 = "system"
	IDOutputGuidelines       = "output_guidelines"
	IDClarify                = "clarify"
	IDPlan                   = "plan"
	IDSerpQueries            = "serp_queries"
	IDSearchResult           = "search_result"
	IDKnowledgeResult        = "knowledge_result"
	IDReview                 = "review"
	IDFinalReport            = "final_report"
	IDKnowledgeGraph         = "knowledge_graph"
	IDSchemaInstruction      = "schema_instruction"
	IDCompanyProfileSystem   = "company_profile_system"
	IDCompanyProfileResearch = "company_profile_research"
)

var requiredIDs = []string{
	IDSystem, IDOutputGuidelines, IDClarify, IDPlan, IDSerpQueries, IDSearchResult,
	IDKnowledgeResult, IDReview, IDFinalReport, IDKnowledgeGraph, IDSchemaInstruction,
	IDCompanyProfileSystem, IDCompanyProfileResearch,
}

// templateEntry matches the YAML structure in templates/*.yaml.
type templateEntry struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	Content     string `yaml:"content"`
}

// Library is a compiled, read-only set of prompt templates. Safe for concurrent use.
type Library struct {
	templates map[string]*template.Template
}

var (
	defaultLib     *Library
	defaultLibErr  error
	defaultLibOnce sync.Once
)

// Default returns the library compiled from the embedded templates.
// It panics if the embedded corpus is broken, which the package tests rule out.
func Default() *Library {
	defaultLibOnce.Do(func() {
		sub, err := fs.Sub(embeddedTemplates, "templates")
		if err != nil {
			defaultLibErr = err
			return
		}
		defaultLib, defaultLibErr = Load(sub)
	})
	if defaultLibErr != nil {
		panic(fmt.Sprintf("prompt: embedded templates: %v", defaultLibErr))
	}
	return defaultLib
}

// Load compiles every *.yaml / *.yml file at the root of fsys.
// Duplicate ids and missing required ids are errors.
func Load(fsys fs.FS) (*Library, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "prompt.Load")
	defer timer.Stop()

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	lib := &Library{templates: make(map[string]*template.Template)}
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		if err := lib.parseFile(fsys, e.Name()); err != nil {
			return nil, err
		}
	}

	var missing []string
	for _, id := range requiredIDs {
		if _, ok := lib.templates[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing prompt templates: %s", strings.Join(missing, ", "))
	}

	logging.BootDebug("Loaded %d prompt templates", len(lib.templates))
	return lib, nil
}

func (l *Library) parseFile(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	var raw []templateEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}

	for _, entry := range raw {
		if entry.ID == "" {
			return fmt.Errorf("%s: template without id", name)
		}
		if _, dup := l.templates[entry.ID]; dup {
			return fmt.Errorf("%s: duplicate template id %q", name, entry.ID)
		}
		tmpl, err := template.New(entry.ID).Option("missingkey=error").Parse(entry.Content)
		if err != nil {
			return fmt.Errorf("%s: template %q: %w", name, entry.ID, err)
		}
		l.templates[entry.ID] = tmpl
	}
	return nil
}

// Render executes the template id with data.
func (l *Library) Render(id string, data any) (string, error) {
	tmpl, ok := l.templates[id]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", id)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", id, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// IDs returns the sorted template ids.
func (l *Library) IDs() []string {
	ids := make([]string, 0, len(l.templates))
	for id := range l.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
