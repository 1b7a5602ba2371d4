/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"net/http"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/service"
	"github.com/wentaojin/dbsync/utils/constant"
)

type AppStats struct {
	*App
}

func (a *App) AppStats() Cmder {
	return &AppStats{App: a}
}

func (a *AppStats) Cmd() *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Show the per channel pipeline statistics of a running server",
		RunE:         a.RunE,
		SilenceUsage: true,
	}
}

func (a *AppStats) RunE(cmd *cobra.Command, args []string) error {
	base, err := a.serverURL()
	if err != nil {
		return err
	}
	snap := &service.StatsSnapshot{}
	if err = callAPI(http.MethodGet, base+constant.HTTPPathStats, snap); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	out := cmd.OutOrStdout()
	backpressure := color.GreenString("false")
	if snap.GapBackpressure {
		backpressure = color.RedString("true")
	}
	cyan.Fprintf(out, "Node:           %s\n", snap.NodeID)
	cyan.Fprintf(out, "Routing Passes: %d\n", snap.RoutingPasses)
	cyan.Fprintf(out, "Last Route:     %s\n", snap.LastRouteTime.Format(logger.LogTimeFmt))
	cyan.Fprintf(out, "Backpressure:   %s\n", backpressure)

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"CHANNEL_ID", "ROUTED", "UNROUTED", "BATCHES", "SENT", "OK", "ERROR", "LOADED", "LOAD_ERRORS", "ROUTE_MS"})
	for _, c := range snap.Channels {
		tw.AppendRow(table.Row{c.ChannelID, c.DataRouted, c.DataUnrouted, c.BatchesRouted, c.BatchesSent,
			c.BatchesOK, c.BatchesError, c.BatchesLoaded, c.LoadErrors, c.LastRouteMilli})
	}
	tw.Render()
	return nil
}
