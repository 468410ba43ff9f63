package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/cloud"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/config"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/session"
	"github.com/matsen/annot/internal/storage"
	"github.com/matsen/annot/internal/workspace"
)

// app bundles what every repository command needs. close must run before
// the process exits so debounced writes reach the backend.
type app struct {
	root   string
	cfg    *config.Config
	global *config.GlobalConfig
	logger *zap.Logger
	store  *workspace.Store
}

// newLogger returns a no-op logger unless --verbose is set.
func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// mustFindRepository finds the repository from the working directory,
// exits on error.
func mustFindRepository() string {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}

	root, err := config.FindRepository(cwd)
	if err != nil {
		exitWithError(ExitConfigError, "%v\n\nRun 'annot init' to create one.", err)
	}
	return root
}

// mustLoadConfig loads repository and global configuration with ANNOT_*
// overrides applied, exits on error.
func mustLoadConfig(root string) (*config.Config, *config.GlobalConfig) {
	if err := config.LoadDotEnv(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	global, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading global config: %v", err)
	}
	if err := config.ApplyEnv(cfg, global); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg, global
}

// mustOpenApp finds the repository and opens its storage backend.
// The caller is responsible for calling close.
func mustOpenApp(ctx context.Context) *app {
	root := mustFindRepository()
	cfg, global := mustLoadConfig(root)
	logger := newLogger()

	if cfg.Backend == storage.KindRedis && global.RedisURL == "" {
		exitWithError(ExitConfigError, "%s", config.HelpfulConfigMessage("redis_url"))
	}

	backend, err := storage.Open(ctx, storage.Options{
		Kind:     cfg.Backend,
		Path:     config.DBPath(root),
		RedisURL: global.RedisURL,
		Prefix:   cfg.RedisPrefix,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		exitWithError(ExitError, "opening %s storage: %v", cfg.Backend, err)
	}
	logger.Debug("opened storage", zap.String("backend", cfg.Backend), zap.String("root", root))

	store := workspace.New(backend, workspace.Options{
		ChunkSize:        cfg.ChunkSize,
		AnnotationWindow: cfg.AnnotationWindow(),
		TableWindow:      cfg.TableWindow(),
		Logger:           logger,
	})
	return &app{root: root, cfg: cfg, global: global, logger: logger, store: store}
}

// close flushes pending writes and closes the backend.
func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
	a.logger.Sync()
}

// mustOpenSession opens the selected transcript. Load warnings are printed
// in human mode and returned for JSON responses.
func (a *app) mustOpenSession(ctx context.Context) (*session.Session, []string) {
	sess, warnings, err := session.Open(ctx, a.store, transcriptID, a.logger)
	if err != nil {
		a.close(ctx)
		exitWithError(ExitDataError, "opening transcript %s: %v", transcriptID, err)
	}
	if humanOutput {
		printWarnings(warnings)
	}
	return sess, warnings
}

// mustDo applies cmd to the session and exits with a mapped code on error.
func (a *app) mustDo(ctx context.Context, sess *session.Session, cmd session.Command) session.Result {
	res, err := sess.Do(cmd)
	if err != nil {
		a.close(ctx)
		exitWithError(exitCodeFor(err), "%v", err)
	}
	if humanOutput {
		printWarnings(warningStrings(res.Warnings))
	}
	return res
}

// mustHaveRows exits when the transcript has no table yet.
func (a *app) mustHaveRows(ctx context.Context, sess *session.Session) {
	if len(sess.State().Rows()) == 0 {
		a.close(ctx)
		exitWithError(ExitDataError, "transcript %s has no rows\n\nRun 'annot transcript load <file>' first.", transcriptID)
	}
}

// exitCodeFor maps library errors to exit codes.
func exitCodeFor(err error) int {
	var parseErr *importer.ParseError
	switch {
	case errors.Is(err, session.ErrNoCodebook):
		return ExitConfigError
	case errors.As(err, &parseErr),
		errors.Is(err, session.ErrAnnotatorNotFound),
		errors.Is(err, importer.ErrDuplicateAnnotator),
		errors.Is(err, annotation.ErrUnknownCategory),
		errors.Is(err, annotation.ErrUnknownCode),
		errors.Is(err, annotation.ErrUnknownRow),
		errors.Is(err, annotation.ErrAbsentValue),
		errors.Is(err, annotation.ErrNotSelectable),
		errors.Is(err, workspace.ErrCorruptRecord),
		errors.Is(err, codebook.ErrUnknownCategory),
		errors.Is(err, notes.ErrDuplicateTitle),
		errors.Is(err, notes.ErrNoteNotFound),
		errors.Is(err, notes.ErrRowOutOfRange),
		errors.Is(err, notes.ErrNoRows),
		errors.Is(err, cloud.ErrNotFound),
		errors.Is(err, cloud.ErrInvalidID):
		return ExitDataError
	default:
		return ExitError
	}
}
