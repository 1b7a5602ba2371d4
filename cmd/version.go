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
	"runtime"

	"github.com/spf13/cobra"
)

// set by -ldflags at build time
var (
	Version   = "None"
	GitHash   = "None"
	BuildTime = "None"
)

func rawVersionInfo() string {
	return fmt.Sprintf("Release Version: %s\nGit Commit Hash: %s\nUTC Build Time: %s\nGo Version: %s\n",
		Version, GitHash, BuildTime, runtime.Version())
}

type AppVersion struct {
	*App
}

func (a *App) AppVersion() Cmder {
	return &AppVersion{App: a}
}

func (a *AppVersion) Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dbsync version",
		RunE:  a.RunE,
	}
}

func (a *AppVersion) RunE(cmd *cobra.Command, args []string) error {
	fmt.Fprint(cmd.OutOrStdout(), rawVersionInfo())
	return nil
}
