package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tubepilot.app/internal/config"
	"tubepilot.app/internal/llm"
	"tubepilot.app/internal/panels"
)

var ideaCount int

// panelCmd runs feature panels directly, without login or the access gate.
var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Run a feature panel locally",
	Long: `Run a feature panel against the configured language model without
going through login or the access gate. Runs are not recorded.`,
}

var panelKeywordsCmd = &cobra.Command{
	Use:   "keywords TOPIC...",
	Short: "Generate SEO keywords for a video topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newPanelService(cmd)
		if err != nil {
			return err
		}
		res, err := svc.Keywords(cmd.Context(), "", strings.Join(args, " "))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return err
	},
}

var panelIdeasCmd = &cobra.Command{
	Use:   "ideas NICHE...",
	Short: "Generate video titles and thumbnail concepts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := newPanelService(cmd)
		if err != nil {
			return err
		}
		res, err := svc.Ideas(cmd.Context(), "", strings.Join(args, " "), ideaCount)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return err
	},
}

var panelRetentionCmd = &cobra.Command{
	Use:   "retention FILE.csv",
	Short: "Analyze a YouTube Studio retention export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		report, err := panels.NewService(nil, panels.WithLogger(logger())).
			Retention(cmd.Context(), "", filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	panelIdeasCmd.Flags().IntVarP(&ideaCount, "count", "n", panels.DefaultIdeaCount, "Number of ideas")
	panelCmd.AddCommand(panelKeywordsCmd, panelIdeasCmd, panelRetentionCmd)
}

func newPanelService(cmd *cobra.Command) (*panels.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return panels.NewService(gen, panels.WithLogger(logger())), nil
}

func newGenerator(cmd *cobra.Command, cfg *config.Config) (llm.Generator, error) {
	if !cfg.LLMConfigured() {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or llm.api_key", llm.ErrNotConfigured)
	}
	return llm.NewGenAI(cmd.Context(), llm.Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
		Logger:  logger(),
	})
}
