package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/session"
)

var importReplace bool

func init() {
	importCmd.Flags().BoolVar(&importReplace, "replace", false, "Replace an annotator with the same id instead of failing")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file-or-glob>...",
	Short: "Import other raters' annotation workbooks",
	Long: `Import other raters' annotation workbooks.

Each xlsx file becomes one annotator, named after the file. Patterns may
use ** to match across directories. A file that fails to parse is reported
and the rest are still imported.

Examples:
  annot import raters/alice.xlsx -t lesson1
  annot import 'raters/**/*.xlsx' -t lesson1 --replace`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

// ImportedAnnotator summarizes one imported workbook.
type ImportedAnnotator struct {
	AnnotatorID string   `json:"annotator_id"`
	Filename    string   `json:"filename"`
	Categories  []string `json:"categories"`
	Lines       int      `json:"lines"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ImportFailure records a workbook that could not be imported.
type ImportFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ImportResult is the response for import.
type ImportResult struct {
	Imported []ImportedAnnotator `json:"imported"`
	Failed   []ImportFailure     `json:"failed,omitempty"`
}

// expandPatterns resolves globs to a sorted, de-duplicated list of xlsx
// files. A literal path is kept even without the extension.
func expandPatterns(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		if !doublestar.ValidatePathPattern(p) {
			return nil, doublestar.ErrBadPattern
		}
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if strings.EqualFold(filepath.Ext(m), ".xlsx") {
				paths = append(paths, m)
			}
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func runImport(cmd *cobra.Command, args []string) error {
	paths, err := expandPatterns(args)
	if err != nil {
		exitWithError(ExitError, "invalid pattern: %v", err)
	}
	if len(paths) == 0 {
		exitWithError(ExitDataError, "no workbooks match %s", strings.Join(args, " "))
	}

	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	a.mustHaveRows(ctx, sess)

	result := ImportResult{Imported: []ImportedAnnotator{}}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			result.Failed = append(result.Failed, ImportFailure{Path: path, Error: err.Error()})
			continue
		}
		res, err := sess.Do(session.ImportWorkbook{
			Filename: filepath.Base(path),
			Data:     data,
			Source:   importer.SourceUpload,
			Replace:  importReplace,
		})
		if err != nil {
			result.Failed = append(result.Failed, ImportFailure{Path: path, Error: err.Error()})
			continue
		}
		result.Imported = append(result.Imported, summarizeImport(res))
	}

	if humanOutput {
		for _, imp := range result.Imported {
			outputHuman("Imported %s (%d lines; %s)\n", imp.AnnotatorID, imp.Lines, strings.Join(imp.Categories, ", "))
			printWarnings(imp.Warnings)
		}
		for _, f := range result.Failed {
			outputHuman("Failed %s: %s\n", f.Path, f.Error)
		}
	} else if err := outputJSON(result); err != nil {
		return err
	}

	if len(result.Imported) == 0 {
		a.close(ctx)
		os.Exit(ExitDataError)
	}
	return nil
}

func summarizeImport(res session.Result) ImportedAnnotator {
	imp := ImportedAnnotator{Warnings: warningStrings(res.Warnings), Categories: []string{}}
	if d := res.Imported; d != nil {
		imp.AnnotatorID = d.AnnotatorID
		imp.Filename = d.Filename
		imp.Lines = len(d.Annotations)
		for c := range d.Categories {
			imp.Categories = append(imp.Categories, c)
		}
		slices.Sort(imp.Categories)
	}
	return imp
}
