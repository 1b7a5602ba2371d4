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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wentaojin/dbsync/logger"
	batchmodel "github.com/wentaojin/dbsync/model/batch"
	"github.com/wentaojin/dbsync/server"
	"github.com/wentaojin/dbsync/utils/constant"
)

type AppBatch struct {
	*App
}

func (a *App) AppBatch() Cmder {
	return &AppBatch{App: a}
}

func (a *AppBatch) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "batch",
		Short:            "Operator outgoing batches of a running server",
		RunE:             a.RunE,
		TraverseChildren: true,
		SilenceUsage:     true,
	}
	cmd.AddCommand(a.AppBatchList().Cmd(), a.AppBatchReset().Cmd())
	return cmd
}

func (a *AppBatch) RunE(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

type AppBatchList struct {
	*AppBatch
	node     string
	channel  string
	status   string
	page     int
	pageSize int
}

func (a *AppBatch) AppBatchList() Cmder {
	return &AppBatchList{AppBatch: a}
}

func (a *AppBatchList) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "list outgoing batches",
		RunE:         a.RunE,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&a.node, "node", "n", "", "target node id")
	cmd.Flags().StringVar(&a.channel, "channel", "", "channel id")
	cmd.Flags().StringVar(&a.status, "status", "", "comma separated batch status, eg: NE,SE,ER")
	cmd.Flags().IntVar(&a.page, "page", 1, "page number")
	cmd.Flags().IntVar(&a.pageSize, "page-size", 50, "batches per page")
	return cmd
}

func (a *AppBatchList) RunE(cmd *cobra.Command, args []string) error {
	base, err := a.serverURL()
	if err != nil {
		return err
	}
	q := url.Values{}
	for k, v := range map[string]string{"node": a.node, "channel": a.channel, "status": a.status} {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("page", strconv.Itoa(a.page))
	q.Set("pageSize", strconv.Itoa(a.pageSize))

	var batches []*batchmodel.OutgoingBatch
	if err = callAPI(http.MethodGet, base+server.APIBatchPath+"?"+q.Encode(), &batches); err != nil {
		return err
	}
	renderBatches(cmd.OutOrStdout(), batches)
	return nil
}

type AppBatchReset struct {
	*AppBatch
	batchID uint64
}

func (a *AppBatch) AppBatchReset() Cmder {
	return &AppBatchReset{AppBatch: a}
}

func (a *AppBatchReset) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reset",
		Short:        "reset an errored outgoing batch so it is extracted and sent again",
		RunE:         a.RunE,
		SilenceUsage: true,
	}
	cmd.Flags().Uint64VarP(&a.batchID, "batch", "b", 0, "outgoing batch id")
	return cmd
}

func (a *AppBatchReset) RunE(cmd *cobra.Command, args []string) error {
	if a.batchID == 0 {
		return fmt.Errorf("flag parameter [batch] is requirement, can not null")
	}
	base, err := a.serverURL()
	if err != nil {
		return err
	}
	var b *batchmodel.OutgoingBatch
	if err = callAPI(http.MethodPost, fmt.Sprintf("%s%s/%d/reset", base, server.APIBatchPath, a.batchID), &b); err != nil {
		return err
	}
	renderBatches(cmd.OutOrStdout(), []*batchmodel.OutgoingBatch{b})
	return nil
}

// callAPI requests the operator api and decodes the data of a successful response into v
func callAPI(method, endpoint string, v interface{}) error {
	body, err := server.Request(method, endpoint, nil)
	if err != nil {
		return err
	}
	resp := &server.Response{Data: v}
	if err = json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("error decoding JSON: %v", err)
	}
	if resp.Code != http.StatusOK {
		return fmt.Errorf("request [%s] failed: %s", endpoint, resp.Error)
	}
	return nil
}

func statusColor(status string) string {
	switch status {
	case constant.BatchStatusOK:
		return color.GreenString(status)
	case constant.BatchStatusError:
		return color.RedString(status)
	case constant.BatchStatusSending:
		return color.YellowString(status)
	default:
		return status
	}
}

func renderBatches(w io.Writer, batches []*batchmodel.OutgoingBatch) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"BATCH_ID", "NODE_ID", "CHANNEL_ID", "STATUS", "EVENTS", "BYTES", "SENT", "FAILED_DATA_ID", "SQL_MESSAGE", "LAST_UPDATE"})
	for _, b := range batches {
		tw.AppendRow(table.Row{
			b.BatchID,
			b.NodeID,
			b.ChannelID,
			statusColor(b.Status),
			b.DataEventCount,
			b.ByteCount,
			b.SentCount,
			b.FailedDataID,
			b.SqlMessage,
			b.LastUpdateTime.Format(logger.LogTimeFmt),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "TOTAL", len(batches)})
	tw.Render()
}
