package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/upload-manager/internal/upload"
)

// errUploadFailed is returned when at least one upload did not succeed.
// Each failure has already been reported.
var errUploadFailed = errors.New("one or more uploads failed")

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>...",
		Short: "Upload files",
		Long: `Upload each file as its own multipart request to upload.url.

All files are sent concurrently. Progress is shown per file on a terminal.
Interrupting (Ctrl-C) aborts every upload still in flight. The exit status
is non-zero if any upload ended with an error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}
}

// fileResult is one line of put's output.
type fileResult struct {
	ID     string        `json:"id"`
	Path   string        `json:"path"`
	Size   int64         `json:"size"`
	Status upload.Status `json:"status"`
	Result upload.Result `json:"result"`
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx, release := shutdownContext(cmd.Context(), logger)
	defer release()

	files, err := prepareFiles(ctx, args, cc.Cfg.Upload.Checksum)
	if err != nil {
		return err
	}

	reporter := newProgressReporter(cmd.ErrOrStderr(), cc.Flags.Quiet, isTerminal(cmd.ErrOrStderr()))
	rec := newResultRecorder()

	coord, err := newCoordinator(cc, reporter.hooks(rec))
	if err != nil {
		return err
	}

	stop := abortOnCancel(ctx, coord, files)
	defer stop()

	if err := issueUploads(ctx, coord, reporter, files, logger); err != nil {
		return err
	}

	coord.Wait()

	results := collectResults(files, rec)

	if cc.Flags.JSON {
		if err := printResultsJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else if !cc.Flags.Quiet {
		printResultsTable(cmd.OutOrStdout(), results)
	}

	if failed := countFailed(results); failed > 0 {
		return fmt.Errorf("%w: %d of %d", errUploadFailed, failed, len(results))
	}

	return nil
}

// issueUploads starts one upload per file in order. Once ctx is canceled no
// further file is started; those files are reported as aborted. On an invalid
// Upload call every started upload is aborted and awaited.
func issueUploads(ctx context.Context, coord *upload.Coordinator, reporter *progressReporter, files []localFile, logger *slog.Logger) error {
	for i, f := range files {
		if ctx.Err() != nil {
			logger.Info("put: interrupted, not starting remaining files", slog.Int("remaining", len(files)-i))
			return nil
		}

		reporter.track(f.File.ID, f.Path)

		logger.Debug("put: starting upload",
			slog.String("path", f.Path),
			slog.String("id", f.File.ID),
			slog.Int64("size", f.Size),
		)

		if err := coord.Upload("", f.File); err != nil {
			for _, started := range files[:i] {
				coord.Abort(started.File)
			}

			coord.Wait()

			return fmt.Errorf("uploading %s: %w", f.Path, err)
		}

		// abortOnCancel may have run before this session was registered.
		if ctx.Err() != nil {
			coord.Abort(f.File)
		}
	}

	return nil
}

// abortOnCancel aborts every file once ctx is canceled. The returned
// function stops watching.
func abortOnCancel(ctx context.Context, coord *upload.Coordinator, files []localFile) func() {
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			for _, f := range files {
				coord.Abort(f.File)
			}
		case <-done:
		}
	}()

	return func() { close(done) }
}

func collectResults(files []localFile, rec *resultRecorder) []fileResult {
	out := make([]fileResult, 0, len(files))

	for _, f := range files {
		r := fileResult{ID: f.File.ID, Path: f.Path, Size: f.Size}

		if ev, ok := rec.get(f.File.ID); ok {
			r.Status = ev.Status
			r.Result = ev.Result
		} else {
			r.Status = upload.StatusAborted
		}

		out = append(out, r)
	}

	return out
}

func countFailed(results []fileResult) int {
	n := 0

	for _, r := range results {
		if r.Status != upload.StatusDone {
			n++
		}
	}

	return n
}

func printResultsJSON(w io.Writer, results []fileResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

func printResultsTable(w io.Writer, results []fileResult) {
	rows := make([][]string, 0, len(results))

	for _, r := range results {
		detail := ""
		if r.Result.Err != nil {
			detail = r.Result.Err.Error()
		}

		rows = append(rows, []string{r.Path, formatSize(r.Size), string(r.Status), detail})
	}

	printTable(w, []string{"FILE", "SIZE", "STATUS", "DETAIL"}, rows)
}
