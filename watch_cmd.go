package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/upload-manager/internal/upload"
	"github.com/tonimelisma/upload-manager/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Upload files as they appear in a directory",
		Long: `Watch a directory and upload every new file once writes to it have
settled. Hidden and temporary files (.partial, .tmp, .swp, .crdownload,
~ prefixed or suffixed) are skipped. Runs until interrupted; uploads still in
flight are aborted on exit.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Duration("settle", watch.DefaultSettle, "quiet period before a file is uploaded")
	cmd.Flags().Bool("existing", false, "also upload files already in the directory")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx, release := shutdownContext(cmd.Context(), logger)
	defer release()

	settle, err := cmd.Flags().GetDuration("settle")
	if err != nil {
		return err
	}

	existing, err := cmd.Flags().GetBool("existing")
	if err != nil {
		return err
	}

	w, err := watch.New(watch.Options{Dir: args[0], Settle: settle, ScanExisting: existing}, logger)
	if err != nil {
		return err
	}

	reporter := newProgressReporter(cmd.ErrOrStderr(), cc.Flags.Quiet, isTerminal(cmd.ErrOrStderr()))
	coord, err := newCoordinator(cc, reporter.hooks(nil))
	if err != nil {
		return err
	}

	runErr := w.Run(ctx, func(path string) {
		uploadSettled(ctx, cc, coord, reporter, path)
	})

	for _, s := range coord.Sessions() {
		coord.Abort(upload.File{ID: s.ID})
	}

	coord.Wait()

	return runErr
}

// uploadSettled starts the upload of one settled file. Failures are logged;
// the watcher keeps running.
func uploadSettled(ctx context.Context, cc *CLIContext, coord *upload.Coordinator, reporter *progressReporter, path string) {
	started := time.Now()

	f, err := prepareFile(ctx, path, cc.Cfg.Upload.Checksum)
	if err != nil {
		cc.Logger.Warn("skipping file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	reporter.track(f.File.ID, f.Path)

	if err := coord.Upload("", f.File); err != nil {
		cc.Logger.Error("starting upload", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	cc.Logger.Debug("upload queued",
		slog.String("path", path),
		slog.String("id", f.File.ID),
		slog.Int64("size", f.Size),
		slog.Duration("prepare", time.Since(started)),
	)
}
