/*
Copyright 2024 Junta Finance Authors.

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
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/juntapay/junta"
	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/database"
	"github.com/juntapay/junta/internal/notification"
)

// Junta represents the CLI application, encapsulating the root Cobra command.
type Junta struct {
	cmd *cobra.Command
}

// juntaInstance holds the runtime instance and configuration shared by the
// subcommands.
type juntaInstance struct {
	junta *junta.Junta
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the Junta instance before
// any subcommand executes.
func preRun(app *juntaInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("junta.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newJunta, err := setupJunta(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.junta = newJunta
		app.cnf = cnf

		return nil
	}
}

func setupJunta(cfg *config.Configuration) (*junta.Junta, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newJunta, err := junta.NewJunta(db)
	if err != nil {
		return nil, fmt.Errorf("error creating junta: %v", err)
	}
	return newJunta, nil
}

// NewCLI creates the command-line interface for the Junta application.
func NewCLI() *Junta {
	var configFile string
	j := &juntaInstance{}

	var rootCmd = &cobra.Command{
		Use:   "junta",
		Short: "Rotating savings pool engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./junta.json", "Configuration file for the junta server")

	rootCmd.PersistentPreRunE = preRun(j)

	rootCmd.AddCommand(serverCommands(j))
	rootCmd.AddCommand(workerCommands(j))
	rootCmd.AddCommand(migrateCommands(j))
	rootCmd.AddCommand(backupCommands(j))
	rootCmd.AddCommand(configCommands())

	return &Junta{cmd: rootCmd}
}

func (w Junta) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
