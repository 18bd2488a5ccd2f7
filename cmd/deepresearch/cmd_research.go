package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"deepresearch/internal/config"
	"deepresearch/internal/events"
	"deepresearch/internal/profile"
	"deepresearch/internal/report"
	"deepresearch/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// researchFlags are the per-session overrides shared by research and profile.
type researchFlags struct {
	parallel    int
	results     int
	rounds      int
	pages       int
	provider    string
	scope       string
	model       string
	requirement string
	localOnly   bool
	useKB       bool
	noRefs      bool
	noImages    bool

	output string
	plain  bool
	quiet  bool
}

func (f *researchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "Queries in flight per round (1-5)")
	cmd.Flags().IntVar(&f.results, "results", 0, "Results per query (1-10)")
	cmd.Flags().IntVar(&f.rounds, "rounds", 0, "Maximum research rounds (0 = no cap)")
	cmd.Flags().IntVar(&f.pages, "pages", 0, "Target report length in pages")
	cmd.Flags().StringVar(&f.provider, "provider", "", "Search provider")
	cmd.Flags().StringVar(&f.scope, "scope", "", "Provider-specific search scope")
	cmd.Flags().StringVar(&f.model, "model", "", "Completion model")
	cmd.Flags().StringVar(&f.requirement, "requirement", "", "Writing requirement for the report")
	cmd.Flags().BoolVar(&f.localOnly, "local-only", false, "Search only the local knowledge base")
	cmd.Flags().BoolVar(&f.useKB, "kb", false, "Search the local knowledge base as well as the web")
	cmd.Flags().BoolVar(&f.noRefs, "no-references", false, "Drop citation markers from the report")
	cmd.Flags().BoolVar(&f.noImages, "no-images", false, "Do not offer images to the report writer")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the report to a file instead of the terminal")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "Print raw markdown")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Hide progress events")
}

func (f *researchFlags) overrides() config.ResearchConfig {
	rc := config.ResearchConfig{
		ParallelSearch:  f.parallel,
		SearchMaxResult: f.results,
		MaxRounds:       f.rounds,
		ReportPages:     f.pages,
		SearchProvider:  f.provider,
		SearchScope:     f.scope,
		Model:           f.model,
		Requirement:     f.requirement,
	}
	if f.localOnly {
		rc.OnlyUseLocalResource = config.Enable
	}
	if f.useKB {
		rc.KnowledgeBase = config.Enable
	}
	if f.noRefs {
		rc.References = config.Disable
	}
	if f.noImages {
		rc.CitationImage = config.Disable
	}
	return rc
}

var (
	resFlags     researchFlags
	skipClarify  bool
	resumeID     string
	profFlags    researchFlags
	profCompany  string
	profCounty   string
	profType     string
	listProfiles bool
)

var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Research a topic and write a cited report",
	Long: `Runs a research session end to end.

Clarifying questions are printed and answered on stdin (finish with an
empty line). Interrupting the run keeps the session at its last completed
stage; continue it with --resume.

Example:
  deepresearch research "Acme Construction Inc. safety record" --parallel 3 --rounds 2`,
	Args: func(cmd *cobra.Command, args []string) error {
		if resumeID == "" && len(args) == 0 {
			return errors.New("a topic is required unless --resume is given")
		}
		return nil
	},
	RunE: runResearch,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Build a company profile report",
	Long: `Creates a company profile session from a report template and runs it.

Report types: full, condensed, change-alert.

Example:
  deepresearch profile --company "Acme Construction" --county Essex --type condensed`,
	RunE: runProfile,
}

func init() {
	resFlags.register(researchCmd)
	researchCmd.Flags().BoolVar(&skipClarify, "skip-clarify", false, "Skip clarifying questions")
	researchCmd.Flags().StringVar(&resumeID, "resume", "", "Continue an existing session")

	profFlags.register(profileCmd)
	profileCmd.Flags().StringVar(&profCompany, "company", "", "Company name")
	profileCmd.Flags().StringVar(&profCounty, "county", "", "County the company operates in")
	profileCmd.Flags().StringVar(&profType, "type", "full", "Report type")
	profileCmd.Flags().BoolVar(&listProfiles, "options", false, "List report types, counties and models")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id := resumeID
	if id == "" {
		rc := resFlags.overrides()
		rc.SkipClarification = skipClarify
		id, err = a.engine.StartSession(ctx, strings.Join(args, " "), rc)
		if err != nil {
			return err
		}
		logger.Info("session started", zap.String("id", id))
	}
	return drive(ctx, a, id, &resFlags, os.Stdin)
}

func runProfile(cmd *cobra.Command, args []string) error {
	if listProfiles {
		return printProfileOptions()
	}

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.engine.StartCompanyProfile(ctx, profile.Request{
		CompanyName: profCompany,
		County:      profCounty,
		ReportType:  profType,
		Model:       profFlags.model,
	}, profFlags.overrides())
	if err != nil {
		return err
	}
	logger.Info("company profile started", zap.String("id", id))
	return drive(ctx, a, id, &profFlags, os.Stdin)
}

// drive advances id to DONE, printing progress and asking for clarification
// answers on in when the session stops at CLARIFYING.
func drive(ctx context.Context, a *app, id string, f *researchFlags, in io.Reader) error {
	stopEvents := followEvents(ctx, a.bus, id, f.quiet)
	defer stopEvents()

	snap, err := a.engine.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(in)
	for !snap.Stage.Terminal() {
		input := ""
		if snap.Stage == session.StageClarifying {
			input = askClarification(reader, snap.Questions)
		}
		snap, err = a.engine.Advance(ctx, id, input)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(os.Stderr, "%s resume with: deepresearch research --resume %s\n", warnStyle.Render("interrupted;"), id)
			}
			return err
		}
	}
	stopEvents()

	printSnapshot(os.Stderr, snap)
	rep, err := a.engine.GetFinalReport(ctx, id)
	if err != nil {
		return err
	}
	sess, err := a.engine.Session(ctx, id)
	if err != nil {
		return err
	}
	refs := ""
	if sess.Config.ReferencesEnabled() {
		refs = report.References(rep.Sources)
	}
	return writeReport(rep, refs, f.output, f.plain)
}

// followEvents prints the session's events until the returned stop is called.
func followEvents(ctx context.Context, bus *events.Bus, id string, quiet bool) func() {
	if quiet || bus == nil {
		return func() {}
	}
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := bus.Subscribe(subCtx, id)
	if err != nil {
		cancel()
		logger.Warn("progress events unavailable", zap.Error(err))
		return func() {}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			printEvent(os.Stderr, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

func askClarification(r *bufio.Reader, questions []string) string {
	printHeading("Clarifying questions")
	for i, q := range questions {
		fmt.Printf("%d. %s\n", i+1, q)
	}
	fmt.Println(mutedStyle.Render("Answer below; finish with an empty line."))

	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" || err != nil {
			if line != "" {
				lines = append(lines, line)
			}
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func printProfileOptions() error {
	opts := profile.AvailableOptions()
	printHeading("Report types")
	for _, t := range opts.ReportTypes {
		fmt.Printf("  %-14s %s (%s)\n", t.Type, t.Name, t.Pages)
	}
	printHeading("Counties")
	for _, c := range opts.Counties {
		fmt.Printf("  %s, %s\n", c.Name, c.State)
	}
	printHeading("Models")
	for _, m := range opts.Models {
		fmt.Printf("  %-20s %s\n", m.ID, m.Label)
	}
	return nil
}
