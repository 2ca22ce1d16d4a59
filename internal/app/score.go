package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/output"
)

var (
	jsonOutput     bool
	markdownOutput bool
	noTarball      bool

	scoreCmd = &cobra.Command{
		Use:   "score <package[@version] | pkg:npm/...>",
		Short: "Score one package version",
		Long: `Score fetches the package's registry metadata, evaluates every
registered rule, and prints the aggregate 0-100 score with per-rule
detail. Without a version the registry's latest dist-tag is scored.`,
		Args: cobra.ExactArgs(1),
		RunE: runScore,
	}
)

func init() {
	scoreCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the result as JSON")
	scoreCmd.Flags().BoolVar(&markdownOutput, "markdown", false, "emit the result as Markdown")
	scoreCmd.Flags().BoolVar(&noTarball, "no-tarball", false, "skip downloading and inspecting the tarball")
}

func runScore(cmd *cobra.Command, args []string) error {
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown are mutually exclusive")
	}

	name, version, err := parsePackageArg(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p := newPipeline(cfg, noTarball)
	ctx := cmd.Context()

	snap, err := p.registry.GetPackageMetadata(ctx, name, version)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("package %s not found in the registry", args[0])
		}
		return fmt.Errorf("fetching metadata for %s: %w", args[0], err)
	}

	result, err := p.calculator.CalculateScore(ctx, snap)
	if err != nil {
		return err
	}

	switch {
	case jsonOutput:
		rendered, err := output.RenderJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
	case markdownOutput:
		fmt.Fprint(cmd.OutOrStdout(), output.RenderMarkdown(result))
	default:
		fmt.Fprint(cmd.OutOrStdout(), output.RenderTable(result, output.IsColorEnabled()))
	}
	return nil
}
