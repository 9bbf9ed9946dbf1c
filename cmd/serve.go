// This file is part of crisis-stream
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/server"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the event hub.",
	Run: func(cmd *cobra.Command, args []string) {
		opts := []server.Option{
			server.WithAddr(viper.GetString("listen_addr")),
			server.WithLogger(logger),
		}

		if redisURL := viper.GetString("redis_url"); redisURL != "" {
			b, err := server.NewRedisBackplane(redisURL, server.DefaultRedisChannel, logger)
			if err != nil {
				logger.Fatal("failed to create redis backplane", zap.Error(err))
			}
			defer b.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = b.Ping(ctx)
			cancel()
			if err != nil {
				logger.Fatal("failed to reach redis", zap.Error(err))
			}
			opts = append(opts, server.WithBackplane(b))
		}

		if feed := viper.GetString("demo_feed"); feed != "" {
			opts = append(opts, server.WithFeed(feed, viper.GetString("demo_schedule")))
		}

		logger.Debug("Listening address: " + viper.GetString("listen_addr"))
		s, err := server.New(opts...)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
		}
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server run failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", defaultListenAddr, "listening address of the hub, unix:// for a unix socket.")
	serveCmd.Flags().String("redis-url", "", "share events with other hubs through this redis.")
	serveCmd.Flags().String("feed", "", "YAML file of demo events to replay.")
	serveCmd.Flags().String("schedule", "@every 10s", "cron schedule of the demo feed.")

	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("redis_url", serveCmd.Flags().Lookup("redis-url"))
	_ = viper.BindPFlag("demo_feed", serveCmd.Flags().Lookup("feed"))
	_ = viper.BindPFlag("demo_schedule", serveCmd.Flags().Lookup("schedule"))
}
