// cmd/kioskctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kiosk/internal/pkg/config"
	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/redis"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "kioskctl",
		Short:   "Admin tool for the kiosk order service",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init("kioskctl", "warn", true)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")

	connect := func(ctx context.Context) (*redis.Client, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(ctx, redis.Options{
			Addrs:    strings.Join(cfg.Redis.Addrs, ","),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	rootCmd.AddCommand(catalogCmd(connect))
	rootCmd.AddCommand(ordersCmd(connect))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connectFunc 按配置打开 Redis 连接，调用方负责关闭。
type connectFunc func(ctx context.Context) (*redis.Client, error)
