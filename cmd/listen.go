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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/progress"
	"github.com/bizflycloud/crisis-stream/pkg/realtime"
)

var (
	outputFormat   string
	reportInterval time.Duration
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe to crisis events and print them.",
	Run: func(cmd *cobra.Command, args []string) {
		if outputFormat != outputJSON && outputFormat != outputYAML {
			logger.Fatal("unknown output format", zap.String("output", outputFormat))
		}

		c, err := realtime.New(clientOptions()...)
		if err != nil {
			logger.Fatal("failed to create realtime client", zap.Error(err))
		}

		p := progress.NewProgress(reportInterval)
		p.OnUpdate = func(s progress.Stat, d time.Duration, ticker bool) {
			if !ticker {
				return
			}
			st := c.Stats()
			logger.Info("throughput",
				zap.Stringer("stat", s),
				zap.Float64("events_per_sec", s.Rate(d)),
				zap.Stringer("state", st.State),
				zap.Int64("reconnects", st.Reconnects),
			)
		}
		p.OnDone = func(s progress.Stat, d time.Duration, _ bool) {
			logger.Info("listener stopped", zap.Stringer("stat", s), zap.Duration("runtime", d))
		}
		p.Start()

		handler := func(e broker.Event) error {
			out, err := formatEvent(outputFormat, e)
			if err != nil {
				p.Report(progress.Stat{Errors: 1})
				return err
			}
			if _, err := os.Stdout.Write(out); err != nil {
				p.Report(progress.Stat{Errors: 1})
				return err
			}
			p.Report(progress.Stat{Events: 1, Bytes: uint64(len(e.Payload))})
			return nil
		}

		topics := viper.GetStringSlice("topics")
		for _, topic := range topics {
			if _, err := c.Subscribe(topic, handler); err != nil {
				logger.Fatal("failed to subscribe", zap.String("topic", topic), zap.Error(err))
			}
		}
		logger.Info("listening", zap.String("url", viper.GetString("url")), zap.Strings("topics", topics))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		c.Shutdown()
		p.Done()
	},
}

// clientOptions builds the realtime client options from the loaded configuration.
func clientOptions() []realtime.Option {
	opts := []realtime.Option{
		realtime.WithURL(viper.GetString("url")),
		realtime.WithLogger(logger),
		realtime.WithHeartbeatInterval(viper.GetDuration("heartbeat_interval")),
	}
	delay := viper.GetDuration("reconnect_delay")
	if maxDelay := viper.GetDuration("reconnect_max_delay"); maxDelay > delay {
		opts = append(opts, realtime.WithReconnectBackoff(delay, maxDelay))
	} else {
		opts = append(opts, realtime.WithReconnectDelay(delay))
	}
	return opts
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().String("url", defaultStreamURL, "event stream url (ws, wss, mqtt or tcp).")
	listenCmd.Flags().StringSlice("topic", nil, "topic to subscribe to, repeatable (default new-crisis and crisis-update).")
	listenCmd.Flags().Duration("heartbeat-interval", 15*time.Second, "keep-alive interval while connected.")
	listenCmd.Flags().Duration("reconnect-delay", 3*time.Second, "delay before reconnecting.")
	listenCmd.Flags().Duration("reconnect-max-delay", 0, "enable exponential reconnect backoff capped at this delay.")
	listenCmd.Flags().StringVarP(&outputFormat, "output", "o", outputJSON, "output format: json or yaml.")
	listenCmd.Flags().DurationVar(&reportInterval, "report-interval", time.Minute, "throughput report interval.")

	_ = viper.BindPFlag("url", listenCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("topics", listenCmd.Flags().Lookup("topic"))
	_ = viper.BindPFlag("heartbeat_interval", listenCmd.Flags().Lookup("heartbeat-interval"))
	_ = viper.BindPFlag("reconnect_delay", listenCmd.Flags().Lookup("reconnect-delay"))
	_ = viper.BindPFlag("reconnect_max_delay", listenCmd.Flags().Lookup("reconnect-max-delay"))
}
