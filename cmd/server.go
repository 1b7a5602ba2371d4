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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/server"
	"github.com/wentaojin/dbsync/service"
	"github.com/wentaojin/dbsync/utils/configutil"
)

type AppServer struct {
	*App
	config        string
	nodeID        string
	nodeGroupID   string
	externalID    string
	addr          string
	securityToken string
	serverID      string
	threads       int
	pushWorkers   int
	compression   string
	timeout       int64
	logFile       string
	logLevel      string
}

func (a *App) AppServer() Cmder {
	return &AppServer{App: a}
}

func (a *AppServer) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Start the replication node server",
		Long:         `Start the replication node server, it routes, pushes, pulls and purges on the configured crontab and serves the sync endpoints`,
		RunE:         a.RunE,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&a.config, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&a.nodeID, "node-id", "", "node id, overrides the config file")
	cmd.Flags().StringVar(&a.nodeGroupID, "node-group-id", "", "node group id, overrides the config file")
	cmd.Flags().StringVar(&a.externalID, "external-id", "", "node external id, overrides the config file")
	cmd.Flags().StringVar(&a.addr, "addr", "", "server listen addr, overrides the config file")
	cmd.Flags().StringVar(&a.securityToken, "security-token", "", "token sent to the nodes this node syncs with")
	cmd.Flags().StringVar(&a.serverID, "server-id", "", "server id holding the cluster locks, default the host name")
	cmd.Flags().IntVar(&a.threads, "routing-threads", 0, "channels routed in parallel")
	cmd.Flags().IntVar(&a.pushWorkers, "push-workers", 0, "nodes pushed or pulled in parallel")
	cmd.Flags().StringVar(&a.compression, "compression", "", "payload compression: none, snappy or lz4")
	cmd.Flags().Int64Var(&a.timeout, "timeout", 0, "milliseconds of one push or pull attempt")
	cmd.Flags().StringVar(&a.logFile, "log-file", "", "node instance log file")
	cmd.Flags().StringVar(&a.logLevel, "log-level", "", "log level, overrides the config file")
	return cmd
}

// loadConfig decodes the config file then replaces with command line options
func (a *AppServer) loadConfig() (*Config, error) {
	cfg := NewConfig()
	if a.config != "" {
		if err := cfg.configFromFile(a.config); err != nil {
			return nil, err
		}
	}
	var nodeOpts []configutil.NodeOption
	for _, o := range []struct {
		value string
		opt   func(string) configutil.NodeOption
	}{
		{a.nodeID, configutil.WithNodeID},
		{a.nodeGroupID, configutil.WithNodeGroupID},
		{a.externalID, configutil.WithExternalID},
		{a.addr, configutil.WithServerAddr},
		{a.securityToken, configutil.WithSecurityToken},
		{a.serverID, configutil.WithServerID},
	} {
		if o.value != "" {
			nodeOpts = append(nodeOpts, o.opt(o.value))
		}
	}
	for _, opt := range nodeOpts {
		opt(cfg.Node)
	}
	if a.threads > 0 {
		configutil.WithRoutingThreads(a.threads)(cfg.Routing)
	}
	var transportOpts []configutil.TransportOption
	if a.pushWorkers > 0 {
		transportOpts = append(transportOpts, configutil.WithPushWorkers(a.pushWorkers))
	}
	if a.compression != "" {
		transportOpts = append(transportOpts, configutil.WithCompression(a.compression))
	}
	if a.timeout > 0 {
		transportOpts = append(transportOpts, configutil.WithTransportTimeout(a.timeout))
	}
	for _, opt := range transportOpts {
		opt(cfg.Transport)
	}
	if a.logFile != "" {
		cfg.LogConfig.LogFile = a.logFile
	}
	if a.logLevel != "" {
		cfg.LogConfig.LogLevel = a.logLevel
	}
	return cfg, nil
}

func (a *AppServer) RunE(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger.NewRootLogger(cfg.LogConfig)
	defer logger.Sync()
	logger.Info("dbsync server config", zap.String("version", Version), zap.String("config", cfg.String()))

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err = model.CreateDatabaseSchema(cfg.Database); err != nil {
		return err
	}
	store, err := model.CreateDatabaseConnection(cfg.Database, cfg.LogConfig.LogLevel)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := service.NewEngine(ctx, cfg.engineConfig(), store)
	if err != nil {
		return err
	}
	srv := server.NewServer(cfg.Node.ServerAddr, engine)
	if err = srv.Start(ctx); err != nil && ctx.Err() != context.Canceled {
		logger.Error("server start failed", zap.Error(err))
		return err
	}
	logger.Info("dbsync server stopped", zap.String("node_id", cfg.Node.NodeID))
	return nil
}
