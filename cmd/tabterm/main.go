package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tabterm command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "tabterm",
		Short:         "Tabbed local and SSH terminal sessions",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newFavoritesCmd(&cfgPath))
	root.AddCommand(newSettingsCmd(&cfgPath))
	root.AddCommand(newKeysCmd())
	root.AddCommand(newConfigCmd(&cfgPath))
	root.AddCommand(newBootstrapCmd())
	root.AddCommand(newVersionCmd())

	return root
}
