package main

import (
	"encoding/json"
	"fmt"
	"os"

	"deepresearch/internal/completion"
	"deepresearch/internal/graph"
	"deepresearch/internal/sections"

	"github.com/spf13/cobra"
)

var (
	sectionsJSON bool
	graphModel   string
)

var sectionsCmd = &cobra.Command{
	Use:   "sections <file>",
	Short: "Split a markdown report into ordered sections",
	Args:  cobra.ExactArgs(1),
	RunE:  runSections,
}

var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Generate a Mermaid knowledge graph for a text file",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraph,
}

func init() {
	sectionsCmd.Flags().BoolVar(&sectionsJSON, "json", false, "Print sections as JSON")
	graphCmd.Flags().StringVar(&graphModel, "model", "", "Completion model (default from config)")
}

func runSections(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	taxonomy := sections.DefaultTaxonomy()
	if cfg.TaxonomyPath != "" {
		if taxonomy, err = sections.LoadTaxonomy(cfg.TaxonomyPath); err != nil {
			return err
		}
	}

	parsed := sections.Parse(string(data), taxonomy)
	if sectionsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(parsed)
	}

	printHeading(fmt.Sprintf("%d sections", len(parsed)))
	for _, s := range parsed {
		fmt.Printf("  %s %s %s\n", stageStyle.Render(fmt.Sprintf("%3d", s.Order)), s.Title, mutedStyle.Render(s.Icon))
	}
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	ctx, cancel := commandContext()
	defer cancel()

	llm, err := completion.New(ctx, cfg.LLM, cfg.GetLLMTimeout())
	if err != nil {
		return err
	}
	model := graphModel
	if model == "" {
		model = cfg.LLM.Model
	}

	diagram, err := graph.NewGenerator(llm,
		graph.WithModel(model),
		graph.WithTimeout(cfg.GetLLMTimeout()),
	).Generate(ctx, string(data))
	if err != nil {
		return err
	}
	fmt.Println(diagram)
	return nil
}
