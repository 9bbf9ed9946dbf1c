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
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
	"github.com/bizflycloud/crisis-stream/pkg/logging"
)

const (
	defaultListenAddr = ":9000"
	defaultHubURL     = "http://127.0.0.1:9000"
	defaultStreamURL  = "ws://127.0.0.1:9000/ws"
)

var (
	cfgFile  string
	debug    bool
	logFile  string
	logLevel string
	logger   *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crisis-stream",
	Short: "Real-time crisis event client and hub.",
	Long: `crisis-stream keeps one live connection to a crisis event stream, fans events out to
topic subscribers, and runs a small hub that relays published events to clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug && logger != nil {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.crisis-stream.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write JSON logs to this file instead of the console")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level of the log file")
	rootCmd.PersistentFlags().String("hub", defaultHubURL, "hub url used by publish and stats, unix:// for a unix socket")
	_ = viper.BindPFlag("hub_url", rootCmd.PersistentFlags().Lookup("hub"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	if logFile != "" {
		logger, err = logging.NewFileLogger(logging.Config{Path: logFile, Level: logLevel, Stdout: debug})
	} else {
		logger, err = logging.New(debug)
	}
	if err != nil {
		panic(err)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}

		// Search config in home directory with name ".crisis-stream" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".crisis-stream")
	}

	setDefaults()

	viper.SetEnvPrefix("CRISIS_STREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		logger.Info("Using config file: " + viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("url", defaultStreamURL)
	viper.SetDefault("topics", []string{broker.NewCrisis, broker.CrisisUpdate})
	viper.SetDefault("heartbeat_interval", 15*time.Second)
	viper.SetDefault("reconnect_delay", 3*time.Second)
	viper.SetDefault("reconnect_max_delay", time.Duration(0))
	viper.SetDefault("listen_addr", defaultListenAddr)
	viper.SetDefault("hub_url", defaultHubURL)
	viper.SetDefault("redis_url", "")
	viper.SetDefault("demo_feed", "")
	viper.SetDefault("demo_schedule", "@every 10s")
}
