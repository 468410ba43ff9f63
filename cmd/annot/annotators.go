package main

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/session"
)

func init() {
	annotatorsCmd.AddCommand(annotatorsListCmd)
	annotatorsCmd.AddCommand(annotatorsRemoveCmd)
	rootCmd.AddCommand(annotatorsCmd)
}

var annotatorsCmd = &cobra.Command{
	Use:   "annotators",
	Short: "List and remove imported annotators",
}

var annotatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the selected transcript's imported annotators",
	Args:  cobra.NoArgs,
	RunE:  runAnnotatorsList,
}

// AnnotatorSummary is one entry of annotators list.
type AnnotatorSummary struct {
	AnnotatorID string          `json:"annotator_id"`
	DisplayName string          `json:"display_name"`
	Description string          `json:"description,omitempty"`
	Source      importer.Source `json:"source"`
	Filename    string          `json:"filename,omitempty"`
	UploadedAt  time.Time       `json:"uploaded_at"`
	Categories  []string        `json:"categories"`
	Lines       int             `json:"lines"`
}

func runAnnotatorsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)

	list := []AnnotatorSummary{}
	for _, d := range sess.State().Annotators {
		s := AnnotatorSummary{
			AnnotatorID: d.AnnotatorID,
			DisplayName: d.DisplayName,
			Description: d.Description,
			Source:      d.Source,
			Filename:    d.Filename,
			UploadedAt:  d.UploadedAt,
			Categories:  []string{},
			Lines:       len(d.Annotations),
		}
		for c := range d.Categories {
			s.Categories = append(s.Categories, c)
		}
		slices.Sort(s.Categories)
		list = append(list, s)
	}

	if !humanOutput {
		return outputJSON(list)
	}
	if len(list) == 0 {
		outputHuman("No imported annotators\n")
	}
	for _, s := range list {
		outputHuman("%-24s %-7s %4d lines  %s\n", s.AnnotatorID, s.Source, s.Lines, strings.Join(s.Categories, ", "))
	}
	return nil
}

var annotatorsRemoveCmd = &cobra.Command{
	Use:   "remove <annotator-id>",
	Short: "Remove an imported annotator",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnotatorsRemove,
}

func runAnnotatorsRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	res := a.mustDo(ctx, sess, session.RemoveAnnotator{ID: args[0]})

	if humanOutput {
		outputHuman("Removed %s\n", res.Removed)
		return nil
	}
	return outputJSON(StatusResponse{Status: "removed"})
}
