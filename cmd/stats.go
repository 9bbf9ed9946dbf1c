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
	"sort"
	"strconv"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/server"
)

var (
	statsHeaders  = []string{"Clients", "Published", "Delivered", "Pings"}
	topicsHeaders = []string{"Topic", "Events"}
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hub counters.",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newHubClient()
		if err != nil {
			logger.Fatal("failed to create hub client", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := c.Stats(ctx)
		if err != nil {
			logger.Fatal("failed to get hub stats", zap.Error(err))
		}

		summary, topics := statsRows(st)
		formatter.Output(statsHeaders, summary)
		formatter.Output(topicsHeaders, topics)
	},
}

// statsRows renders st as table rows, topics sorted by name.
func statsRows(st *server.Stats) ([][]string, [][]string) {
	summary := [][]string{{
		strconv.Itoa(st.Clients),
		strconv.FormatInt(st.Published, 10),
		strconv.FormatInt(st.Delivered, 10),
		strconv.FormatInt(st.Pings, 10),
	}}

	names := make([]string, 0, len(st.Topics))
	for name := range st.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	topics := make([][]string, 0, len(names))
	for _, name := range names {
		topics = append(topics, []string{name, strconv.FormatInt(st.Topics[name], 10)})
	}
	return summary, topics
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
