package main

import (
	"bytes"
	"context"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/cloud"
	"github.com/matsen/annot/internal/config"
	"github.com/matsen/annot/internal/export"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/session"
)

var (
	cloudAs         string
	cloudAnnotators []string
)

func init() {
	cloudPushCmd.Flags().StringVar(&cloudAs, "as", "", "Annotator id to push under (default: annotator_id from config)")
	cloudPullCmd.Flags().StringVar(&cloudAs, "as", "", "Own annotator id, skipped when pulling (default: annotator_id from config)")
	cloudPullCmd.Flags().StringSliceVar(&cloudAnnotators, "annotator", nil, "Pull only these annotator ids")

	cloudCmd.AddCommand(cloudPushCmd)
	cloudCmd.AddCommand(cloudPullCmd)
	cloudCmd.AddCommand(cloudListCmd)
	rootCmd.AddCommand(cloudCmd)
}

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Share annotation workbooks through an S3 bucket",
	Long: `Share annotation workbooks through an S3 bucket.

Workbooks live at transcripts/<transcript>/annotations/<annotator>.xlsx.
The bucket is configured under s3: in the global config or with
ANNOT_S3_* variables.`,
}

var cloudPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Export the selected transcript and upload it",
	Args:  cobra.NoArgs,
	RunE:  runCloudPush,
}

var cloudPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download other raters' workbooks and import them",
	Long: `Download other raters' workbooks and import them.

Annotators already imported are replaced with the downloaded version.`,
	Args: cobra.NoArgs,
	RunE: runCloudPull,
}

var cloudListCmd = &cobra.Command{
	Use:   "list",
	Short: "List annotators with a workbook in the bucket",
	Args:  cobra.NoArgs,
	RunE:  runCloudList,
}

// mustOpenCloud connects to the configured bucket.
func (a *app) mustOpenCloud(ctx context.Context) *cloud.Repo {
	s3 := a.global.S3
	if s3.Endpoint == "" {
		a.close(ctx)
		exitWithError(ExitConfigError, "%s", config.HelpfulConfigMessage("s3.endpoint"))
	}
	if s3.Bucket == "" {
		a.close(ctx)
		exitWithError(ExitConfigError, "%s", config.HelpfulConfigMessage("s3.bucket"))
	}
	bucket, err := cloud.OpenBucket(ctx, cloud.Options{
		Endpoint:  s3.Endpoint,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Bucket:    s3.Bucket,
		Region:    s3.Region,
		UseSSL:    s3.UseSSL,
	})
	if err != nil {
		a.close(ctx)
		exitWithError(ExitError, "%v", err)
	}
	return cloud.NewRepo(bucket, a.logger)
}

// ownAnnotatorID returns --as, falling back to the repository config.
func (a *app) ownAnnotatorID() string {
	if cloudAs != "" {
		return cloudAs
	}
	return a.cfg.AnnotatorID
}

func runCloudPush(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	id := a.ownAnnotatorID()
	if id == "" {
		a.close(ctx)
		exitWithError(ExitConfigError, "no annotator id\n\nPass --as or set annotator_id in %s.", config.ConfigPath(a.root))
	}

	sess, _ := a.mustOpenSession(ctx)
	a.mustHaveRows(ctx, sess)
	st := sess.State()

	var buf bytes.Buffer
	if err := export.Write(&buf, st.Annotations, st.Rows(), export.Options{Notes: st.Notes.Notes}); err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}

	repo := a.mustOpenCloud(ctx)
	key, err := repo.Push(ctx, transcriptID, id, buf.Bytes())
	if err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}

	if humanOutput {
		outputHuman("Pushed %s\n", key)
		return nil
	}
	return outputJSON(StatusResponse{Status: "pushed", Path: key})
}

func runCloudPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	sess, _ := a.mustOpenSession(ctx)
	a.mustHaveRows(ctx, sess)
	repo := a.mustOpenCloud(ctx)

	var workbooks []cloud.Workbook
	if len(cloudAnnotators) > 0 {
		for _, id := range cloudAnnotators {
			data, err := repo.Pull(ctx, transcriptID, id)
			if err != nil {
				a.close(ctx)
				exitWithError(exitCodeFor(err), "%v", err)
			}
			workbooks = append(workbooks, cloud.Workbook{AnnotatorID: id, Filename: id + ".xlsx", Data: data})
		}
	} else {
		var skip []string
		if own := a.ownAnnotatorID(); own != "" {
			skip = append(skip, own)
		}
		var err error
		workbooks, err = repo.PullAll(ctx, transcriptID, skip...)
		if err != nil {
			a.close(ctx)
			exitWithError(exitCodeFor(err), "%v", err)
		}
	}

	result := ImportResult{Imported: []ImportedAnnotator{}}
	for _, wb := range workbooks {
		res, err := sess.Do(session.ImportWorkbook{
			Filename: wb.Filename,
			Data:     wb.Data,
			Source:   importer.SourceCloud,
			Replace:  true,
		})
		if err != nil {
			result.Failed = append(result.Failed, ImportFailure{Path: cloud.AnnotationKey(transcriptID, wb.AnnotatorID), Error: err.Error()})
			continue
		}
		result.Imported = append(result.Imported, summarizeImport(res))
	}

	if humanOutput {
		if len(workbooks) == 0 {
			outputHuman("Nothing to pull for %s\n", transcriptID)
		}
		for _, imp := range result.Imported {
			outputHuman("Pulled %s (%d lines)\n", imp.AnnotatorID, imp.Lines)
			printWarnings(imp.Warnings)
		}
		for _, f := range result.Failed {
			outputHuman("Failed %s: %s\n", f.Path, f.Error)
		}
		return nil
	}
	return outputJSON(result)
}

func runCloudList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := mustOpenApp(ctx)
	defer a.close(ctx)

	repo := a.mustOpenCloud(ctx)
	ids, err := repo.ListAnnotators(ctx, transcriptID)
	if err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}

	if humanOutput {
		if len(ids) == 0 {
			outputHuman("No workbooks for %s\n", transcriptID)
		}
		for _, id := range ids {
			outputHuman("%s\n", id)
		}
		return nil
	}
	if ids == nil {
		ids = []string{}
	}
	return outputJSON(ids)
}
