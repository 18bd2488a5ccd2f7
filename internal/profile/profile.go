package profile

import (
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/prompt"
	"deepresearch/internal/session"

	"github.com/go-playground/validator/v10"
)

// ModelOption is a selectable research model.
type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var modelOptions = []ModelOption{
	{ID: "gpt-4o", Label: "GPT-4o (Recommended)"},
	{ID: "gpt-4o-mini", Label: "GPT-4o Mini (Faster)"},
	{ID: "gpt-4", Label: "GPT-4 (Legacy)"},
	{ID: "gpt-3.5-turbo", Label: "GPT-3.5 Turbo (Budget)"},
}

// DefaultModel is preselected for new profiles.
const DefaultModel = "gpt-4o"

// Request describes one company profile run.
type Request struct {
	CompanyName string `json:"companyName" yaml:"company_name" validate:"required"`
	County      string `json:"county" yaml:"county" validate:"required"`
	ReportType  string `json:"reportType" yaml:"report_type" validate:"omitempty,oneof=full condensed change-alert"`
	// Model is optional; empty keeps the session default.
	Model string `json:"model,omitempty" yaml:"model"`
}

var validate = validator.New()

// Normalize trims fields, strips a trailing " County", lowercases the report
// type (defaulting to full) and validates the result.
func (r Request) Normalize() (Request, error) {
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.County = NormalizeCounty(r.County)
	r.ReportType = strings.ToLower(strings.TrimSpace(r.ReportType))
	if r.ReportType == "" {
		r.ReportType = string(ReportFull)
	}
	r.Model = strings.TrimSpace(r.Model)

	if err := validate.Struct(r); err != nil {
		return r, fmt.Errorf("invalid company profile request: %w", err)
	}
	if !IsKnownCounty(r.County) {
		logging.SessionWarn("Company profile county %q is outside the NJ/NY lists", r.County)
	}
	return r, nil
}

// Topic is the session topic for the request.
func (r Request) Topic() string {
	return fmt.Sprintf("%s (%s County) - %s company profile", r.CompanyName, r.County, r.ReportType)
}

// Metadata is the structured record attached to the session and its report.
func (r Request) Metadata() session.ReportMetadata {
	return session.ReportMetadata{
		Kind:        session.KindCompanyProfile,
		CompanyName: r.CompanyName,
		County:      r.County,
		ReportType:  r.ReportType,
	}
}

// BuildPrompt renders the research brief for req using its template.
func BuildPrompt(lib *prompt.Library, req Request) (string, error) {
	tmpl, err := Resolve(req.ReportType)
	if err != nil {
		return "", err
	}
	return lib.CompanyProfileResearch(prompt.ProfileInput{
		CompanyName:     req.CompanyName,
		County:          NormalizeCounty(req.County),
		ReportType:      string(tmpl.Type),
		ReportStructure: tmpl.Structure(),
		PageGuidance:    tmpl.PageGuidance(),
	})
}

// Options is everything a caller needs to present the profile form.
type Options struct {
	ReportTypes []Template    `json:"reportTypes"`
	Counties    []County      `json:"counties"`
	Models      []ModelOption `json:"models"`
	Default     Request       `json:"default"`
}

// AvailableOptions returns the report types, counties and models.
func AvailableOptions() Options {
	return Options{
		ReportTypes: Templates(),
		Counties:    Counties(),
		Models:      append([]ModelOption(nil), modelOptions...),
		Default:     Request{ReportType: string(ReportFull), Model: DefaultModel},
	}
}
