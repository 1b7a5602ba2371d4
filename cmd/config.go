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
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wentaojin/dbsync/logger"
	"github.com/wentaojin/dbsync/model"
	"github.com/wentaojin/dbsync/service"
	"github.com/wentaojin/dbsync/topology"
	"github.com/wentaojin/dbsync/utils/configutil"
	"github.com/wentaojin/dbsync/utils/constant"
	"github.com/wentaojin/dbsync/utils/stringutil"
)

// Config is the node config file, the metadata database and the log sections sit beside the engine sections
type Config struct {
	Node      *configutil.NodeOptions      `toml:"node" json:"node"`
	Database  *model.Database              `toml:"database" json:"database"`
	Routing   *configutil.RoutingOptions   `toml:"routing" json:"routing"`
	Transport *configutil.TransportOptions `toml:"transport" json:"transport"`
	Cluster   *configutil.ClusterOptions   `toml:"cluster" json:"cluster"`
	Purge     *configutil.PurgeOptions     `toml:"purge" json:"purge"`
	Load      *configutil.LoadOptions      `toml:"load" json:"load"`
	Target    *model.Database              `toml:"target" json:"target"`
	LogConfig *logger.Config               `toml:"log" json:"log"`
}

func NewConfig() *Config {
	d := service.DefaultConfig()
	return &Config{
		Node:      d.Node,
		Database:  &model.Database{Type: model.DatabaseTypeSqlite, Path: "dbsync.db", SlowThreshold: constant.DefaultSlowThreshold},
		Routing:   d.Routing,
		Transport: d.Transport,
		Cluster:   d.Cluster,
		Purge:     d.Purge,
		Load:      d.Load,
		LogConfig: &logger.Config{
			LogLevel:   constant.DefaultLogLevel,
			MaxSize:    128,
			MaxDays:    7,
			MaxBackups: 30,
		},
	}
}

// configFromFile loads config from file, sections left out keep their defaults
func (c *Config) configFromFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config decode from file failed: %v", err)
	}
	return nil
}

func (c *Config) engineConfig() *service.Config {
	return &service.Config{
		Node:           c.Node,
		Routing:        c.Routing,
		Transport:      c.Transport,
		Cluster:        c.Cluster,
		Purge:          c.Purge,
		Load:           c.Load,
		TargetDatabase: c.Target,
		LogLevel:       c.LogConfig.LogLevel,
	}
}

func (c *Config) String() string {
	cfg, err := stringutil.MarshalJSON(c)
	if err != nil {
		logger.Error("marshal to json", zap.Reflect("node config", c), zap.Error(err))
	}
	return cfg
}

type AppConfig struct {
	*App
}

func (a *App) AppConfig() Cmder {
	return &AppConfig{App: a}
}

func (a *AppConfig) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "config",
		Short:            "Operator node topology config",
		RunE:             a.RunE,
		TraverseChildren: true,
		SilenceUsage:     true,
	}
	cmd.AddCommand(a.AppConfigImport().Cmd())
	return cmd
}

func (a *AppConfig) RunE(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

type AppConfigImport struct {
	*AppConfig
	config string
	seed   string
}

func (a *AppConfig) AppConfigImport() Cmder {
	return &AppConfigImport{AppConfig: a}
}

func (a *AppConfigImport) Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import a yaml topology seed into the metadata database",
		Long: `import a yaml topology seed into the metadata database, the nodes, node group links, channels,
triggers, routers, trigger routers, conflicts, transforms, load filters and security tokens are upserted`,
		RunE:         a.RunE,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&a.config, "config", "c", "config.toml", "node config file holding the metadata database")
	cmd.Flags().StringVarP(&a.seed, "file", "f", "", "yaml topology seed file")
	return cmd
}

func (a *AppConfigImport) RunE(cmd *cobra.Command, args []string) error {
	if a.seed == "" {
		return fmt.Errorf("flag parameter [file] is requirement, can not null")
	}
	cfg := NewConfig()
	if err := cfg.configFromFile(a.config); err != nil {
		return err
	}
	logger.NewRootLogger(cfg.LogConfig)

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Printf("Component:    %s\n", cyan.Sprint("dbsync"))
	fmt.Printf("Command:      %s\n", cyan.Sprint("config"))
	fmt.Printf("File:         %s\n", cyan.Sprint(a.seed))
	fmt.Printf("Action:       %s\n", cyan.Sprint("import"))

	if err := importSeed(cmd.Context(), cfg, a.seed); err != nil {
		fmt.Printf("Status:       %s\n", cyan.Sprint("failed"))
		fmt.Printf("Response:     %s\n", color.RedString("%v", err))
		return err
	}
	fmt.Printf("Status:       %s\n", cyan.Sprint("success"))
	return nil
}

func importSeed(ctx context.Context, cfg *Config, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	seed, err := topology.ParseSeed(f)
	if err != nil {
		return err
	}
	if err = model.CreateDatabaseSchema(cfg.Database); err != nil {
		return err
	}
	store, err := model.CreateDatabaseConnection(cfg.Database, cfg.LogConfig.LogLevel)
	if err != nil {
		return err
	}
	defer store.Close()
	return topology.Import(ctx, store, seed)
}
