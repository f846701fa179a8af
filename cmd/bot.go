package cmd

import (
	"context"

	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/service"
	"github.com/cs-open-lab/openlab-bot/internal/web"
	"github.com/cs-open-lab/openlab-bot/library/log"
)

var botCMD = &cobra.Command{
	Use:   "bot",
	Short: "bot",
	Long:  `run the help-queue bot, the draft-expiry worker and the status API`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		service.Initialize(ctx)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return service.Instance.Run(gctx)
		})
		g.Go(func() error {
			return service.Instance.RunDraftExpiry(gctx)
		})
		g.Go(func() error {
			return web.RunServer(gctx, gconfig.Shared.GetString("listen"), service.Instance)
		})

		if err := g.Wait(); err != nil {
			log.Logger.Panic("run bot", zap.Error(err))
		}
	},
}

func init() {
	rootCMD.AddCommand(botCMD)
}
