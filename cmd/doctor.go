package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
	"github.com/jeeves-cluster-organization/groundedrag/coreengine/retrieval"
)

// doctorReport is the environment check printed by doctor.
type doctorReport struct {
	DocsPath       string
	DocsPathExists bool
	DocsCount      int
	CountsByExt    map[string]int
	MinDocs        int
	IndexPath      string
	IndexPresent   bool
	MissingEnv     []string
}

func (r doctorReport) meetsDocRequirement() bool {
	return r.DocsCount >= r.MinDocs
}

func newDoctorCmd(c *cli) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the docs path, provider keys and vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := buildDoctorReport(c.settings, os.Getenv)
			fmt.Fprintln(cmd.OutOrStdout(), formatDoctorReport(report))
			if strict && !report.meetsDocRequirement() {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when the document count is below min_docs")
	return cmd
}

func buildDoctorReport(settings *config.Settings, getenv func(string) string) doctorReport {
	r := doctorReport{
		DocsPath:    settings.DocsPath,
		MinDocs:     settings.MinDocs,
		IndexPath:   settings.VectorStore.Path,
		CountsByExt: make(map[string]int, len(config.SupportedExtensions)),
	}
	if info, err := os.Stat(settings.DocsPath); err == nil && info.IsDir() {
		r.DocsPathExists = true
		if abs, err := filepath.Abs(settings.DocsPath); err == nil {
			r.DocsPath = abs
		}
		r.DocsCount, r.CountsByExt = countDocuments(settings.DocsPath, config.SupportedExtensions)
	}

	if settings.VectorStore.Backend == "weaviate" {
		r.IndexPath = settings.VectorStore.WeaviateHost
		r.IndexPresent = settings.VectorStore.WeaviateHost != ""
	} else {
		r.IndexPresent = retrieval.IndexPresent(settings.VectorStore.Path)
	}

	for _, key := range config.RequiredEnvKeys {
		if getenv(key) == "" {
			r.MissingEnv = append(r.MissingEnv, key)
		}
	}
	return r
}

func countDocuments(root string, extensions []string) (int, map[string]int) {
	counts := make(map[string]int, len(extensions))
	for _, ext := range extensions {
		counts[ext] = 0
	}
	total := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := counts[ext]; ok {
			counts[ext]++
			total++
		}
		return nil
	})
	return total, counts
}

func formatDoctorReport(r doctorReport) string {
	yesNo := "no"
	if r.IndexPresent {
		yesNo = "yes"
	}
	missing := "none"
	if len(r.MissingEnv) > 0 {
		missing = strings.Join(r.MissingEnv, ", ")
	}

	lines := []string{
		"docs_path: " + r.DocsPath,
		fmt.Sprintf("docs_count: %d", r.DocsCount),
	}
	for _, ext := range config.SupportedExtensions {
		lines = append(lines, fmt.Sprintf("  %s: %d", ext, r.CountsByExt[ext]))
	}
	lines = append(lines,
		"index_path: "+r.IndexPath,
		"index_present: "+yesNo,
		"missing_env: "+missing,
	)

	warn := func(msg string) { lines = append(lines, warnColor("WARNING: "+msg)) }
	if !r.DocsPathExists {
		warn("docs_path does not exist.")
	}
	if !r.meetsDocRequirement() {
		warn(fmt.Sprintf("docs_count below minimum (%d).", r.MinDocs))
	}
	if len(r.MissingEnv) > 0 {
		warn("missing env vars detected.")
	}
	if !r.IndexPresent {
		warn("vector index not found.")
	}
	return strings.Join(lines, "\n")
}
