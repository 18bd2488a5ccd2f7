// Package profile resolves the fixed company profile report templates and builds
// the research brief that drives a company profile session.
package profile

import (
	"fmt"
	"strings"

	"deepresearch/internal/session"
)

// ReportType names one of the fixed report skeletons.
type ReportType string

const (
	ReportFull        ReportType = "full"
	ReportCondensed   ReportType = "condensed"
	ReportChangeAlert ReportType = "change-alert"
)

// SectionTemplate is one fixed heading with its guidance bullets.
type SectionTemplate struct {
	Heading  string   `json:"heading"`
	Guidance []string `json:"guidance"`
}

// Template is a complete report skeleton.
type Template struct {
	Type        ReportType        `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Pages       string            `json:"pages"`
	MaxPages    int               `json:"maxPages"`
	Sections    []SectionTemplate `json:"sections"`
}

var templates = []Template{
	{
		Type:        ReportFull,
		Name:        "Full Detailed Report",
		Description: "Comprehensive 30-50 page analysis with all sections",
		Pages:       "30-50 pages",
		MaxPages:    50,
		Sections: []SectionTemplate{
			{"Executive Summary", []string{
				"Company overview and key metrics",
				"Union representation status",
				"Strategic assessment for organizing potential",
				"Priority recommendations",
			}},
			{"Company Overview", []string{
				"Company name, headquarters, founding",
				"Mission and business description",
				"Industry classification and market position",
				"Corporate structure and ownership",
				"Key statistics (employees, revenue, locations)",
				"Historical timeline and major developments",
			}},
			{"Leadership and Management", []string{
				"Executive leadership profiles",
				"Board of directors",
				"Management team",
				"Compensation information",
				"Background and history",
				"Leadership changes",
			}},
			{"Financial Performance", []string{
				"Revenue and profitability trends",
				"Financial ratios and analysis",
				"Funding sources and debt structure",
				"Capital expenditures",
				"Investor information",
				"Financial outlook",
			}},
			{"Current Projects", []string{
				"Active project list with details",
				"Project timelines and status",
				"Contract values",
				"Client relationships",
				"Bidding activity",
				"Project performance metrics",
			}},
			{"Government Contracts", []string{
				"Current government contracts",
				"Historical contract performance",
				"Bidding patterns and success rates",
				"Political relationships influencing contracts",
				"Compliance with government requirements",
				"Upcoming contract opportunities",
			}},
			{"Union Relationships", []string{
				"Current union representation",
				"Bargaining unit information",
				"Contract expiration dates",
				"Historical labor relations",
				"Union density by location",
				"Management attitudes toward unions",
			}},
			{"Safety and Compliance", []string{
				"OSHA violations and citations",
				"Safety performance metrics",
				"Environmental compliance",
				"Industry safety comparison",
				"Safety programs and initiatives",
				"Regulatory investigations",
			}},
			{"Strategic Analysis", []string{
				"SWOT analysis",
				"Competitive positioning",
				"Growth strategy",
				"Market trends affecting the company",
				"Technological adoption",
				"Vulnerability assessment",
			}},
			{"Recommendations", []string{
				"Strategic opportunities for the union",
				"Potential organizing targets",
				"Negotiation leverage points",
				"Communication strategies",
				"Relationship development approaches",
				"Monitoring priorities",
			}},
		},
	},
	{
		Type:        ReportCondensed,
		Name:        "Condensed Insights Report",
		Description: "5-10 page summary focusing on key findings and recent developments",
		Pages:       "5-10 pages",
		MaxPages:    10,
		Sections: []SectionTemplate{
			{"Executive Summary", []string{
				"Company snapshot",
				"Critical insights",
				"Action recommendations",
			}},
			{"Key Findings", []string{
				"Financial highlights",
				"Operational developments",
				"Leadership changes",
				"Project updates",
				"Compliance issues",
				"Union-related developments",
			}},
			{"Recent Developments", []string{
				"New information since last report",
				"Significant changes",
				"Emerging trends",
				"News coverage",
			}},
			{"Strategic Recommendations", []string{
				"Immediate action items",
				"Strategic opportunities",
				"Risk mitigation",
				"Monitoring priorities",
			}},
		},
	},
	{
		Type:        ReportChangeAlert,
		Name:        "Change Alert Report",
		Description: "2-5 page report on specific changes or new developments",
		Pages:       "2-5 pages",
		MaxPages:    5,
		Sections: []SectionTemplate{
			{"Change Summary", []string{
				"Nature of change",
				"Source of information",
				"Verification status",
				"Timestamp",
			}},
			{"Impact Analysis", []string{
				"Operational impact",
				"Financial impact",
				"Strategic impact",
				"Union impact",
			}},
			{"Recommended Response", []string{
				"Immediate actions",
				"Communication strategy",
				"Monitoring approach",
				"Additional research needed",
			}},
			{"Reference Information", []string{
				"Related previous findings",
				"Context for the change",
				"Industry comparison",
				"Source details",
			}},
		},
	},
}

// Templates returns every report skeleton in presentation order.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		out[i] = t.clone()
	}
	return out
}

// Resolve returns the template for reportType. An empty type selects the full report.
func Resolve(reportType string) (Template, error) {
	key := ReportType(strings.ToLower(strings.TrimSpace(reportType)))
	if key == "" {
		key = ReportFull
	}
	for _, t := range templates {
		if t.Type == key {
			return t.clone(), nil
		}
	}
	return Template{}, fmt.Errorf("unknown report type %q (want full, condensed or change-alert)", reportType)
}

func (t Template) clone() Template {
	c := t
	c.Sections = make([]SectionTemplate, len(t.Sections))
	for i, s := range t.Sections {
		c.Sections[i] = SectionTemplate{Heading: s.Heading, Guidance: append([]string(nil), s.Guidance...)}
	}
	return c
}

// Structure renders the skeleton as markdown headings followed by guidance bullets.
func (t Template) Structure() string {
	var b strings.Builder
	for i, s := range t.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## " + s.Heading)
		for _, g := range s.Guidance {
			b.WriteString("\n- " + g)
		}
	}
	return b.String()
}

// Plan converts the skeleton into a session plan. Section order is preserved and
// each summary lists the guidance bullets.
func (t Template) Plan() session.ReportPlan {
	plan := session.ReportPlan{Sections: make([]session.PlanSection, 0, len(t.Sections))}
	for _, s := range t.Sections {
		plan.Sections = append(plan.Sections, session.PlanSection{
			Title:   s.Heading,
			Summary: strings.Join(s.Guidance, "; "),
		})
	}
	return plan
}

// PageGuidance is the length hint given to the synthesizer.
func (t Template) PageGuidance() string {
	return fmt.Sprintf("%s (%s)", t.Pages, t.Description)
}
