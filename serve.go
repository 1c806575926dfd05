package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/upload-manager/internal/receiver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload receiver",
		Long: `Run an HTTP server that accepts multipart uploads at server.upload_path.

Each received file is stored in server.temp_dir, checked against an optional
sha256 form field, deleted, and summarized in a JSON reply. When
server.static_dir is set, its index.html is served at / together with the
other files in it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx, release := shutdownContext(cmd.Context(), logger)
	defer release()

	srvCfg := cc.Cfg.Server

	maxBytes, err := srvCfg.MaxUploadBytes()
	if err != nil {
		return err
	}

	if !cc.Flags.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := receiver.New(receiver.Options{
		Listen:        srvCfg.Listen,
		UploadPath:    srvCfg.UploadPath,
		FieldName:     cc.Cfg.Upload.FieldName,
		StaticDir:     srvCfg.StaticDir,
		MaxUploadSize: maxBytes,
		TempDir:       srvCfg.TempDir,
	}, logger)

	statusf(cmd.ErrOrStderr(), cc.Flags.Quiet, "Receiving uploads at http://%s%s\n", srvCfg.Listen, srvCfg.UploadPath)

	return srv.ListenAndServe(ctx)
}
