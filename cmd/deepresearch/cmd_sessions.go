package main

import (
	"fmt"

	"deepresearch/internal/report"

	"github.com/spf13/cobra"
)

var (
	showOutput string
	showPlain  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
	RunE:  runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsShowCmd.Flags().StringVarP(&showOutput, "output", "o", "", "Write the report to a file")
	sessionsShowCmd.Flags().BoolVar(&showPlain, "plain", false, "Print raw markdown")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	printHeading("Sessions")
	for _, s := range list {
		fmt.Printf("  %s  %-13s %s %s\n", s.ID, stageStyle.Render(string(s.Stage)), s.Topic,
			mutedStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04")))
	}
	fmt.Printf("\nTotal: %d sessions\n", len(list))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := st.Load(ctx, args[0])
	if err != nil {
		return err
	}
	snap := sess.Snapshot()
	printSnapshot(cmd.OutOrStdout(), snap)
	if snap.Error != "" {
		fmt.Println(errorStyle.Render(snap.Error))
	}
	for _, e := range sess.Errors {
		fmt.Printf("  %s round %d %s %q: %s\n", warnStyle.Render(e.Phase), e.Round, mutedStyle.Render(e.At.Format("15:04:05")), e.Query, e.Message)
	}
	if sess.Report == nil {
		return nil
	}

	refs := ""
	if sess.Config.ReferencesEnabled() {
		refs = report.References(sess.Report.Sources)
	}
	return writeReport(sess.Report, refs, showOutput, showPlain)
}
