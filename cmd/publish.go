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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/hubclient"
)

var publishRetry time.Duration

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish <type> [json-payload]",
	Short: "Publish an event to the hub.",
	Example: `  crisis-stream publish new-crisis '{"id":"c-1","title":"Flooding"}'
  crisis-stream publish crisis-update '{"id":"c-1","severity":4}'`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var payload json.RawMessage
		if len(args) == 2 {
			payload = json.RawMessage(args[1])
		}

		c, err := newHubClient(hubclient.WithMaxRetry(publishRetry))
		if err != nil {
			logger.Fatal("failed to create hub client", zap.Error(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := c.Publish(ctx, args[0], payload); err != nil {
			logger.Fatal("failed to publish event", zap.String("type", args[0]), zap.Error(err))
		}
		fmt.Println("Published", args[0])
	},
}

func newHubClient(opts ...hubclient.ClientOption) (*hubclient.Client, error) {
	base := []hubclient.ClientOption{
		hubclient.WithServerURL(viper.GetString("hub_url")),
		hubclient.WithLogger(logger),
	}
	return hubclient.NewClient(append(base, opts...)...)
}

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().DurationVar(&publishRetry, "retry", 30*time.Second, "give up retrying after this long, 0 disables retries.")
}
