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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Cmder builds one cobra command
type Cmder interface {
	Cmd() *cobra.Command
	RunE(*cobra.Command, []string) error
}

type App struct {
	Server string
}

func (a *App) Cmd() *cobra.Command {
	c := &cobra.Command{
		Use:          "dbsync",
		Short:        "the application for trigger based database replication",
		RunE:         a.RunE,
		SilenceUsage: true,
	}
	c.PersistentFlags().StringVarP(&a.Server, "server", "s", "", "operator api addr of a running dbsync server")
	return c
}

func (a *App) RunE(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// serverURL is the operator api base url, a bare host:port gets the http scheme
func (a *App) serverURL() (string, error) {
	if strings.EqualFold(a.Server, "") {
		return "", fmt.Errorf("flag parameter [server] is requirement, can not null")
	}
	if strings.HasPrefix(a.Server, "http://") || strings.HasPrefix(a.Server, "https://") {
		return strings.TrimSuffix(a.Server, "/"), nil
	}
	return "http://" + strings.TrimSuffix(a.Server, "/"), nil
}
