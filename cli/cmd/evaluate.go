package cmd

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adcraft-labs/creative-qa/cli/internal/client"
	"github.com/adcraft-labs/creative-qa/cli/pkg/output"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <creative-file>",
	Short: "Score a creative against its campaign",
	Long: `Submit a creative for quality review.

The campaign context is read from a YAML file:

  campaign_id: spring-launch
  message: Fresh styles for spring
  brand_colors: ["#1f4e79", "#ffffff"]
  prohibited_words: [guaranteed, free]
  target_width: 1200
  target_height: 628
  required_elements: [brand_logo, campaign_message]

The command exits non-zero when the creative fails review, so it can gate a
publishing pipeline.`,
	Example: `  qactl evaluate banner.png --campaign spring.yaml --overlay-text "Fresh styles for spring"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().String("campaign", "", "campaign context YAML file (required)")
	evaluateCmd.Flags().String("id", "", "creative ID (default: file name)")
	evaluateCmd.Flags().String("format", "", "creative format (default: file extension)")
	evaluateCmd.Flags().Int("width", 0, "declared width (default: decoded from the image)")
	evaluateCmd.Flags().Int("height", 0, "declared height (default: decoded from the image)")
	evaluateCmd.Flags().String("overlay-text", "", "text rendered on the creative")
	evaluateCmd.Flags().StringSlice("element", nil, "element present on the creative (repeatable)")
	_ = evaluateCmd.MarkFlagRequired("campaign")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	campaignPath, _ := cmd.Flags().GetString("campaign")
	campaign, err := loadCampaign(campaignPath)
	if err != nil {
		return err
	}

	creative, err := loadCreative(cmd, args[0])
	if err != nil {
		return err
	}
	creative.CampaignID = campaign.CampaignID

	report, err := newClient(cmd).Evaluate(&client.EvaluateRequest{Creative: *creative, Campaign: campaign})
	if report == nil {
		return err
	}

	if jsonOutput(cmd) {
		if jerr := output.JSON(report); jerr != nil {
			return jerr
		}
	} else {
		printReport(report)
	}

	if err != nil {
		return err
	}
	if !report.Passed() {
		return fmt.Errorf("creative %s failed quality review", report.CreativeID)
	}
	return nil
}

func loadCampaign(path string) (*client.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	var c client.Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse campaign %s: %w", path, err)
	}
	return &c, nil
}

func loadCreative(cmd *cobra.Command, path string) (*client.Creative, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read creative: %w", err)
	}

	flags := cmd.Flags()
	id, _ := flags.GetString("id")
	format, _ := flags.GetString("format")
	width, _ := flags.GetInt("width")
	height, _ := flags.GetInt("height")
	overlay, _ := flags.GetString("overlay-text")
	elements, _ := flags.GetStringSlice("element")

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if format == "" {
		format = ext
	}
	if width == 0 && height == 0 {
		if ic, _, err := image.DecodeConfig(bytes.NewReader(payload)); err == nil {
			width, height = ic.Width, ic.Height
		}
	}

	return &client.Creative{
		ID:          id,
		Format:      format,
		Width:       width,
		Height:      height,
		Payload:     payload,
		OverlayText: overlay,
		Elements:    elements,
	}, nil
}

func printReport(r *client.Report) {
	fmt.Printf("Creative:   %s\n", r.CreativeID)
	if r.CampaignID != "" {
		fmt.Printf("Campaign:   %s\n", r.CampaignID)
	}
	fmt.Printf("Verdict:    %s\n", output.Verdict(r.Passed()))
	fmt.Printf("Composite:  %.3f\n", r.Composite)
	if r.EvaluatedAt != nil {
		fmt.Printf("Evaluated:  %s\n", r.EvaluatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	table := output.NewTable([]string{"CRITERION", "SCORE"})
	table.AddRow([]string{"technical", fmt.Sprintf("%.3f", r.Scores.Technical)})
	table.AddRow([]string{"brand", fmt.Sprintf("%.3f", r.Scores.Brand)})
	table.AddRow([]string{"content_safety", fmt.Sprintf("%.3f", r.Scores.ContentSafety)})
	table.AddRow([]string{"visual", fmt.Sprintf("%.3f", r.Scores.Visual)})
	table.Render()

	if len(r.Violations) > 0 {
		fmt.Println()
		output.Warn("Violations:")
		for _, v := range r.Violations {
			fmt.Printf("  - %s\n", v)
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Println()
		output.Info("Recommendations:")
		for _, rec := range r.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
}
