package main

import (
	"fmt"
	"strings"

	"deepresearch/internal/knowledge"

	"github.com/spf13/cobra"
)

var kbMax int

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the local knowledge base",
}

var kbIngestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest .md, .txt and .html files from a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBIngest,
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBSearch,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingested documents",
	RunE:  runKBList,
}

func init() {
	kbSearchCmd.Flags().IntVarP(&kbMax, "max", "n", 5, "Maximum chunks to return")

	kbCmd.AddCommand(kbIngestCmd)
	kbCmd.AddCommand(kbSearchCmd)
	kbCmd.AddCommand(kbListCmd)
}

func openKB() (*knowledge.Store, error) {
	kb, err := knowledge.Open(cfg.Knowledge.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func runKBIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	kb, err := openKB()
	if err != nil {
		return err
	}
	defer kb.Close()

	ingester, err := knowledge.NewIngester(kb, args[0], cfg.Knowledge.ChunkSize)
	if err != nil {
		return err
	}
	stats, err := ingester.IngestDir(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d added, %d updated, %d unchanged, %d failed\n",
		stageStyle.Render("ingested"), stats.Added, stats.Updated, stats.Unchanged, stats.Failed)
	return nil
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	kb, err := openKB()
	if err != nil {
		return err
	}
	defer kb.Close()

	chunks, err := kb.Search(ctx, strings.Join(args, " "), kbMax)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, c := range chunks {
		title := c.Title
		if title == "" {
			title = c.SourceID
		}
		fmt.Printf("%s %s %s\n", stageStyle.Render(fmt.Sprintf("[%d]", i+1)), title, mutedStyle.Render(fmt.Sprintf("%.2f", c.Score)))
		fmt.Println(indent(excerpt(c.Content, 300), "    "))
	}
	return nil
}

func runKBList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	kb, err := openKB()
	if err != nil {
		return err
	}
	defer kb.Close()

	docs, err := kb.Documents(ctx)
	if err != nil {
		return err
	}
	printHeading(fmt.Sprintf("%d documents", len(docs)))
	for _, d := range docs {
		fmt.Printf("  %-40s %s %s\n", d.ID, d.Title, mutedStyle.Render(fmt.Sprintf("%d chunks, %s", d.Chunks, d.UpdatedAt.Format("2006-01-02 15:04"))))
	}
	return nil
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
