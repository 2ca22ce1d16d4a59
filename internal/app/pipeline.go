package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/pkgrisk/internal/advisory"
	"github.com/git-pkgs/pkgrisk/internal/archive"
	"github.com/git-pkgs/pkgrisk/internal/config"
	"github.com/git-pkgs/pkgrisk/internal/core"
	"github.com/git-pkgs/pkgrisk/internal/fetch"
	"github.com/git-pkgs/pkgrisk/internal/npmreg"
	"github.com/git-pkgs/pkgrisk/internal/rules/advisories"
	"github.com/git-pkgs/pkgrisk/internal/rules/contents"
	"github.com/git-pkgs/pkgrisk/internal/rules/meta"
	"github.com/git-pkgs/pkgrisk/internal/rules/scripts"
	"github.com/git-pkgs/pkgrisk/internal/rules/updates"
)

// loadConfig resolves the effective configuration from the config file,
// flags, and environment, in increasing precedence.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if registryURL != "" {
		cfg.Registry.BaseURL = registryURL
	}
	if token := os.Getenv("PKGRISK_REGISTRY_TOKEN"); token != "" {
		cfg.Registry.Token = token
	}
	return cfg, nil
}

// pipeline bundles the collaborators one score run needs.
type pipeline struct {
	registry   *npmreg.Client
	calculator *core.Calculator
}

// newPipeline builds the HTTP stack, clients, and rule set from cfg.
func newPipeline(cfg *config.Config, noTarball bool) *pipeline {
	opts := []fetch.Option{
		fetch.WithTimeout(cfg.HTTP.Timeout()),
		fetch.WithMaxRetries(cfg.HTTP.MaxRetries),
	}
	if token := cfg.Registry.Token; token != "" {
		registryBase := cfg.Registry.BaseURL
		opts = append(opts, fetch.WithAuthFunc(func(url string) (string, string) {
			if strings.HasPrefix(url, registryBase) {
				return "Authorization", "Bearer " + token
			}
			return "", ""
		}))
	}
	httpClient := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(opts...))

	registry := npmreg.New(cfg.Registry.BaseURL, httpClient)
	osv := advisory.New(cfg.Advisory.BaseURL, httpClient)

	var ingestorOpts []archive.Option
	if cfg.ScratchDir != "" {
		ingestorOpts = append(ingestorOpts, archive.WithBaseDir(cfg.ScratchDir))
	}
	ingestor := archive.NewIngestor(httpClient, ingestorOpts...)

	calc := core.NewCalculator(core.CalculatorConfig{
		BaseScore: cfg.Score.Base,
		MinScore:  cfg.Score.Min,
		MaxScore:  cfg.Score.Max,
	})

	calc.RegisterRule(scripts.New(scripts.Config{
		Weight:   cfg.Rules.Scripts.Weight,
		Disabled: cfg.Rules.Scripts.Disabled,
	}))
	calc.RegisterRule(updates.New(updates.Config{
		Weight:                cfg.Rules.Updates.Weight,
		SizeIncreaseThreshold: cfg.Rules.Updates.SizeIncreaseThreshold,
		MaxVersions:           cfg.Rules.Updates.MaxVersions,
		MajorJumpThreshold:    cfg.Rules.Updates.MajorJumpThreshold,
		Disabled:              cfg.Rules.Updates.Disabled,
	}, registry))
	calc.RegisterRule(contents.New(contents.Config{
		Weight:   cfg.Rules.Contents.Weight,
		Disabled: noTarball || cfg.Rules.Contents.Disabled,
	}, ingestor))
	calc.RegisterRule(advisories.New(advisories.Config{
		Weight:   cfg.Rules.Advisories.Weight,
		Disabled: cfg.Rules.Advisories.Disabled,
	}, osv))
	calc.RegisterRule(meta.NewLicenseRule(meta.Config{
		Weight:   cfg.Rules.License.Weight,
		Disabled: cfg.Rules.License.Disabled,
	}))
	calc.RegisterRule(meta.NewMaintainerRule(meta.Config{
		Weight:   cfg.Rules.Maintainers.Weight,
		Disabled: cfg.Rules.Maintainers.Disabled,
	}))
	calc.RegisterRule(meta.NewProvenanceRule(meta.Config{
		Weight:   cfg.Rules.Provenance.Weight,
		Disabled: cfg.Rules.Provenance.Disabled,
	}))
	calc.RegisterRule(meta.NewNamespaceRule(meta.Config{
		Weight:   cfg.Rules.Namespace.Weight,
		Disabled: cfg.Rules.Namespace.Disabled,
	}, cfg.Rules.Namespace.RiskyScopes))

	return &pipeline{registry: registry, calculator: calc}
}

// parsePackageArg accepts "name", "name@version", "@scope/name",
// "@scope/name@version", or a pkg:npm Package URL.
func parsePackageArg(arg string) (name, version string, err error) {
	if strings.HasPrefix(arg, "pkg:") {
		p, err := purl.Parse(arg)
		if err != nil {
			return "", "", fmt.Errorf("parsing purl %q: %w", arg, err)
		}
		if p.Type != "npm" {
			return "", "", fmt.Errorf("unsupported purl type %q, only npm is scored", p.Type)
		}
		name = p.Name
		if p.Namespace != "" {
			name = p.Namespace + "/" + p.Name
		}
		return name, p.Version, nil
	}

	// The version separator is the last @; scoped names start with one.
	if idx := strings.LastIndex(arg, "@"); idx > 0 {
		return arg[:idx], arg[idx+1:], nil
	}
	if arg == "" || arg == "@" {
		return "", "", fmt.Errorf("empty package name")
	}
	return arg, "", nil
}
