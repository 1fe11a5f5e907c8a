package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/arkilian/framekit/internal/app"
)

type serveOptions struct {
	httpAddr string
	grpcAddr string
	noGRPC   bool
	storage  string
	noCache  bool
}

func (o *serveOptions) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.httpAddr, "http-addr", "", "HTTP listen address")
	fs.StringVar(&o.grpcAddr, "grpc-addr", "", "gRPC listen address")
	fs.BoolVar(&o.noGRPC, "no-grpc", false, "Disable the gRPC server")
	fs.StringVar(&o.storage, "storage", "", "Frame storage type: local, s3")
	fs.BoolVar(&o.noCache, "no-cache", false, "Disable the result cache")
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC transform servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if opts.httpAddr != "" {
				cfg.HTTP.Addr = opts.httpAddr
			}
			if opts.grpcAddr != "" {
				cfg.GRPC.Addr = opts.grpcAddr
			}
			if opts.noGRPC {
				cfg.GRPC.Enabled = false
			}
			if opts.storage != "" {
				cfg.Storage.Type = opts.storage
			}
			if opts.noCache {
				cfg.Cache.Enabled = false
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			logger.Info("framekit serving", zap.String("version", version), zap.String("commit", commit))

			return application.WaitForShutdown(cmd.Context())
		},
	}
	opts.bind(cmd.Flags())
	return cmd
}
