package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/types"

	"github.com/go-playground/validator/v10"
)

// Toggle values used by the on/off research switches.
const (
	Enable  = "enable"
	Disable = "disable"
)

// ResearchConfig is the per-session configuration. It is resolved once when a
// session is created and never read from shared state afterwards.
type ResearchConfig struct {
	// Fan-out
	ParallelSearch  int `yaml:"parallel_search" json:"parallelSearch" validate:"min=1,max=5"`
	SearchMaxResult int `yaml:"search_max_result" json:"searchMaxResult" validate:"min=1,max=10"`

	// Backends
	SearchProvider string `yaml:"search_provider" json:"searchProvider" validate:"omitempty,oneof=duckduckgo tavily exa firecrawl bocha searxng"`
	SearchScope    string `yaml:"search_scope" json:"searchScope,omitempty"`
	Model          string `yaml:"model" json:"model,omitempty"`

	// Toggles ("enable" / "disable"); empty means inherit the default
	References           string `yaml:"references" json:"references,omitempty" validate:"omitempty,oneof=enable disable"`
	CitationImage        string `yaml:"citation_image" json:"citationImage,omitempty" validate:"omitempty,oneof=enable disable"`
	OnlyUseLocalResource string `yaml:"only_use_local_resource" json:"onlyUseLocalResource,omitempty" validate:"omitempty,oneof=enable disable"`
	WebSearch            string `yaml:"web_search" json:"webSearch,omitempty" validate:"omitempty,oneof=enable disable"`
	KnowledgeBase        string `yaml:"knowledge_base" json:"knowledgeBase,omitempty" validate:"omitempty,oneof=enable disable"`

	SmoothTextStreamType string `yaml:"smooth_text_stream_type" json:"smoothTextStreamType,omitempty" validate:"omitempty,oneof=character word line"`

	// Loop control; 0 means no cap
	MaxRounds         int  `yaml:"max_rounds" json:"maxRounds" validate:"min=0"`
	SkipClarification bool `yaml:"skip_clarification" json:"skipClarification"`

	// Synthesis
	Requirement string `yaml:"requirement" json:"requirement,omitempty"`
	ReportPages int    `yaml:"report_pages" json:"reportPages" validate:"min=0,max=50"`

	// Per-call timeouts
	SearchTimeout     string `yaml:"search_timeout" json:"searchTimeout,omitempty"`
	CompletionTimeout string `yaml:"completion_timeout" json:"completionTimeout,omitempty"`
}

// DefaultResearchConfig returns the defaults used when a session omits a value.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{
		ParallelSearch:       1,
		SearchMaxResult:      5,
		SearchProvider:       "duckduckgo",
		References:           Enable,
		CitationImage:        Enable,
		OnlyUseLocalResource: Disable,
		WebSearch:            Enable,
		KnowledgeBase:        Disable,
		SmoothTextStreamType: "word",
		ReportPages:          5,
		SearchTimeout:        "30s",
		CompletionTimeout:    "120s",
	}
}

// WithDefaults fills every zero field of c from base.
func (c ResearchConfig) WithDefaults(base ResearchConfig) ResearchConfig {
	if c.ParallelSearch == 0 {
		c.ParallelSearch = base.ParallelSearch
	}
	if c.SearchMaxResult == 0 {
		c.SearchMaxResult = base.SearchMaxResult
	}
	if c.SearchProvider == "" {
		c.SearchProvider = base.SearchProvider
	}
	if c.SearchScope == "" {
		c.SearchScope = base.SearchScope
	}
	if c.Model == "" {
		c.Model = base.Model
	}
	if c.References == "" {
		c.References = base.References
	}
	if c.CitationImage == "" {
		c.CitationImage = base.CitationImage
	}
	if c.OnlyUseLocalResource == "" {
		c.OnlyUseLocalResource = base.OnlyUseLocalResource
	}
	if c.WebSearch == "" {
		c.WebSearch = base.WebSearch
	}
	if c.KnowledgeBase == "" {
		c.KnowledgeBase = base.KnowledgeBase
	}
	if c.SmoothTextStreamType == "" {
		c.SmoothTextStreamType = base.SmoothTextStreamType
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = base.MaxRounds
	}
	if !c.SkipClarification {
		c.SkipClarification = base.SkipClarification
	}
	if c.Requirement == "" {
		c.Requirement = base.Requirement
	}
	if c.ReportPages == 0 {
		c.ReportPages = base.ReportPages
	}
	if c.SearchTimeout == "" {
		c.SearchTimeout = base.SearchTimeout
	}
	if c.CompletionTimeout == "" {
		c.CompletionTimeout = base.CompletionTimeout
	}
	return c
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func researchValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report yaml names so messages match the config file.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks ranges, enum values and duration syntax.
func (c ResearchConfig) Validate() error {
	if err := researchValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("invalid research config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid research config: %w", err)
	}
	for name, v := range map[string]string{"search_timeout": c.SearchTimeout, "completion_timeout": c.CompletionTimeout} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("invalid research config: %s %q is not a positive duration", name, v)
		}
	}
	return nil
}

// ReferencesEnabled reports whether citation markers are kept in the report.
func (c ResearchConfig) ReferencesEnabled() bool { return c.References != Disable }

// CitationImagesEnabled reports whether images are offered to the synthesizer.
func (c ResearchConfig) CitationImagesEnabled() bool { return c.CitationImage != Disable }

// LocalOnly reports whether web search is skipped in favour of the knowledge base.
func (c ResearchConfig) LocalOnly() bool { return c.OnlyUseLocalResource == Enable }

// WebSearchEnabled reports whether web backends may be queried.
func (c ResearchConfig) WebSearchEnabled() bool { return c.WebSearch != Disable && !c.LocalOnly() }

// KnowledgeBaseEnabled reports whether the local knowledge base is queried.
func (c ResearchConfig) KnowledgeBaseEnabled() bool {
	return c.KnowledgeBase == Enable || c.LocalOnly()
}

// GetSearchTimeout returns the per-search timeout.
func (c ResearchConfig) GetSearchTimeout() time.Duration {
	return parseDuration(c.SearchTimeout, 30*time.Second)
}

// GetCompletionTimeout returns the per-completion timeout.
func (c ResearchConfig) GetCompletionTimeout() time.Duration {
	return parseDuration(c.CompletionTimeout, 120*time.Second)
}

// =============================================================================
// ADMIN FLAGS
// =============================================================================

// AdminConfig holds operator-level feature flags applied to every session.
type AdminConfig struct {
	EnableWebSearch       bool   `yaml:"enable_web_search" json:"enableWebSearch"`
	EnableKnowledgeBase   bool   `yaml:"enable_knowledge_base" json:"enableKnowledgeBase"`
	EnableCompanyProfiles bool   `yaml:"enable_company_profiles" json:"enableCompanyProfiles"`
	MaxReportLength       int    `yaml:"max_report_length" json:"maxReportLength"` // pages
	DefaultModel          string `yaml:"default_model" json:"defaultModel"`
}

// DefaultAdminConfig enables every feature.
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{
		EnableWebSearch:       true,
		EnableKnowledgeBase:   true,
		EnableCompanyProfiles: true,
		MaxReportLength:       50,
		DefaultModel:          "gpt-4o",
	}
}

// Apply clamps rc to what the operator allows.
func (a AdminConfig) Apply(rc ResearchConfig) ResearchConfig {
	if !a.EnableWebSearch {
		rc.WebSearch = Disable
	}
	if !a.EnableKnowledgeBase {
		rc.KnowledgeBase = Disable
		rc.OnlyUseLocalResource = Disable
	}
	if a.MaxReportLength > 0 && rc.ReportPages > a.MaxReportLength {
		rc.ReportPages = a.MaxReportLength
	}
	if rc.Model == "" {
		rc.Model = a.DefaultModel
	}
	return rc
}

// Resolve merges per-session overrides over the defaults, applies admin flags
// and validates the result.
func Resolve(overrides, defaults ResearchConfig, admin AdminConfig) (ResearchConfig, error) {
	rc := admin.Apply(overrides.WithDefaults(defaults))
	if err := rc.Validate(); err != nil {
		return ResearchConfig{}, err
	}
	if !rc.WebSearchEnabled() && !rc.KnowledgeBaseEnabled() {
		return ResearchConfig{}, fmt.Errorf("invalid research config: no search source enabled: %w", types.ErrFeatureDisabled)
	}
	return rc, nil
}
