package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "reconcile-server",
		Short:        "协作文档的冲突检测与解决服务",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径（默认查找 reconcileConfig.yaml）")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	return cmd
}
