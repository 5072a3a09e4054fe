// Package main 是应用程序的入口点。
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd 是顶层命令，子命令在各自的文件中注册。
var rootCmd = &cobra.Command{
	Use:           "ctxbot",
	Short:         "Context-aware chat bot with a vector knowledge base",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "Path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
