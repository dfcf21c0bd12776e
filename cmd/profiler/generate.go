package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyulab/actor-profiler/internal/naming"
	"github.com/iyulab/actor-profiler/internal/orchestrator"
	"github.com/iyulab/actor-profiler/internal/reporter"
)

type generateOptions struct {
	approvedURLs []string
	docs         []string
	outputDir    string
	noSave       bool
	bundle       bool
	open         bool
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate <actor name>",
		Short: "Generate and validate a profile for one threat actor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.approvedURLs, "approved-url", nil, "analyst-approved evidence URL (repeatable)")
	cmd.Flags().StringArrayVar(&opts.docs, "doc", nil, "plain-text document to seed research (repeatable)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "output", "directory for record.json, audit.json and report.html")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not persist the record to the store")
	cmd.Flags().BoolVar(&opts.bundle, "bundle", false, "also write a ZIP bundle of the output directory")
	cmd.Flags().BoolVar(&opts.open, "open", false, "open report.html in the default browser")
	return cmd
}

func runGenerate(cmd *cobra.Command, name string, opts generateOptions) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	docs, err := readDocuments(opts.docs)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, !opts.noSave)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(os.Stderr, "[*] Generating profile for %q with %s/%s\n", name, cfg.LLM.Provider, cfg.LLM.Model)
	start := time.Now()

	res, err := a.generator.Generate(cmd.Context(), orchestrator.Request{
		Name:         name,
		ApprovedURLs: opts.approvedURLs,
		Documents:    docs,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	for _, step := range res.Audit.Steps {
		marker := "[+]"
		if step.Failed {
			marker = "[!]"
		}
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", marker, step.Label, step.Description)
	}

	outDir := filepath.Join(opts.outputDir, fmt.Sprintf("%s-%s", slug(res.Record.Name), start.Format("2006-01-02T15-04-05")))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if _, err := reporter.WriteJSON(outDir, "record.json", res.Record); err != nil {
		return err
	}
	if _, err := reporter.WriteJSON(outDir, "audit.json", res.Audit); err != nil {
		return err
	}

	rep, err := reporter.New()
	if err != nil {
		return err
	}
	reportPath, err := rep.Generate(reporter.NewReportData(res.Record, &res.Audit, versionString()), outDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[*] Report: %s\n", reportPath)

	if opts.bundle {
		zipPath, err := reporter.ExportBundle(outDir, reporter.BundleInfo{
			Actor:       res.Record.Name,
			RequestID:   res.RequestID,
			ToolVersion: versionString(),
		})
		if err != nil {
			return fmt.Errorf("bundle: %w", err)
		}
		fmt.Fprintf(os.Stderr, "[*] Bundle: %s\n", zipPath)
	}

	if a.store != nil {
		if err := a.store.Save(context.WithoutCancel(cmd.Context()), res.Record, res.RequestID); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
		fmt.Fprintf(os.Stderr, "[*] Saved %s to %s\n", res.Record.Name, cfg.Store.Dir)
	}

	if opts.open {
		if err := openInBrowser(reportPath); err != nil {
			logger.Warn("could not open browser", zap.Error(err))
		}
	}

	fmt.Fprintf(os.Stderr, "[*] Done in %s: %d aliases, %d vulnerabilities, %d sources\n",
		time.Since(start).Round(time.Millisecond), len(res.Record.Aliases),
		len(res.Record.Vulnerabilities), len(res.Record.Sources))
	return nil
}

// readDocuments loads plain-text seed documents. Binary formats are not parsed.
func readDocuments(paths []string) ([]orchestrator.Document, error) {
	docs := make([]orchestrator.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		docs = append(docs, orchestrator.Document{Name: filepath.Base(p), Text: string(data)})
	}
	return docs, nil
}

func slug(name string) string {
	if s := naming.Normalize(name); s != "" {
		return s
	}
	return "actor"
}
