// SPDX-FileCopyrightText: Copyright 2025 The Taskwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the cli subcommands for running the watcher
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskwatch/taskwatch/pkg/config"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "taskwatch",
	Short: "taskwatch reacts to issue tracker and chat events",
	Long: `taskwatch watches configured platforms for actionable events and runs an
external command for each one, acknowledging its work with a comment so
redelivered events are not handled twice.`,
}

const configFileName = "taskwatch-config.yaml"

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	RootCmd.SetOut(os.Stdout)
	RootCmd.SetErr(os.Stderr)
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetViperDefaults(viper.GetViper())
	RootCmd.PersistentFlags().String("config", "",
		fmt.Sprintf("config file (default is $PWD/%s)", configFileName))

	if err := config.RegisterWatcherFlags(viper.GetViper(), RootCmd.PersistentFlags()); err != nil {
		log.Fatal().Err(err).Msg("Error registering flags")
	}

	if err := viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config")); err != nil {
		log.Fatal().Err(err).Msg("Error binding config flag")
	}
}

func initConfig() {
	cfgFile := viper.GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// use defaults
		viper.SetConfigName(strings.TrimSuffix(configFileName, filepath.Ext(configFileName)))
		viper.AddConfigPath(".")
	}
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("Error reading config file:", err)
	}
}
