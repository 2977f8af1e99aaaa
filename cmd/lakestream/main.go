/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements. See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"github.com/noctarius/lakestream/internal"
	"github.com/noctarius/lakestream/internal/supporting"
	"github.com/noctarius/lakestream/internal/supporting/logging"
	"github.com/noctarius/lakestream/internal/sysconfig"
	"github.com/noctarius/lakestream/internal/waiting"
	spiconfig "github.com/noctarius/lakestream/spi/config"
	"github.com/noctarius/lakestream/spi/version"
	"github.com/urfave/cli"
	"log"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"
)

const shutdownTimeout = time.Minute

var (
	configurationFile string
	verbose           bool
	withCaller        bool
	logToStdErr       bool
	versionOnly       bool
	profiling         bool
)

func main() {
	app := &cli.App{
		Name:  version.BinName,
		Usage: "Replicates PostgreSQL tables into Iceberg tables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config,c",
				Value:       "",
				Usage:       "Load configuration from `FILE`",
				Destination: &configurationFile,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Usage:       "Show verbose output",
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "caller",
				Usage:       "Collect caller information for log messages",
				Destination: &withCaller,
			},
			&cli.BoolFlag{
				Name:        "log-to-stderr",
				Usage:       "Redirects logging output to stderr",
				Destination: &logToStdErr,
			},
			&cli.BoolFlag{
				Name:        "version",
				Usage:       "Prints the version and exits",
				Destination: &versionOnly,
			},
			&cli.BoolFlag{
				Name:        "profiling",
				Usage:       "Enables the Go profiler",
				Destination: &profiling,
			},
		},
		Action: start,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func start(*cli.Context) error {
	fmt.Printf("%s version %s (git revision %s; branch %s)\n",
		version.BinName, version.Version, version.CommitHash, version.Branch,
	)

	if versionOnly {
		return nil
	}

	if profiling {
		cpuProfile, err := os.Create("cpu.prof")
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(cpuProfile); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	logging.WithCaller = withCaller
	logging.WithVerbose = verbose

	// No configuration file set? Try env variable!
	if configurationFile == "" {
		if cf, present := os.LookupEnv("LAKESTREAM_CONFIG"); present {
			fmt.Fprintf(os.Stderr, "Using configuration file from environment variable\n")
			configurationFile = cf
		}
	}
	if configurationFile == "" {
		return cli.NewExitError("Configuration file required", 3)
	}

	fmt.Fprintf(os.Stderr, "Loading configuration file: %s\n", configurationFile)
	config, err := spiconfig.LoadFile(configurationFile)
	if err != nil {
		return supporting.AdaptErrorWithMessage(err, "Configuration file couldn't be loaded", 4)
	}

	if err := logging.InitializeLogging(config, logToStdErr); err != nil {
		return err
	}

	if len(config.Pipelines) == 0 {
		return cli.NewExitError("At least one pipeline is required", 5)
	}

	worker, err := internal.NewWorker(sysconfig.NewSystemConfig(config))
	if err != nil {
		return supporting.AdaptErrorWithMessage(err, "Worker couldn't be created", 6)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := waiting.NewWaiter()
	go func() {
		<-signals
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := worker.Stop(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Hard error when stopping pipelines: %v\n", err)
			os.Exit(1)
		}
		done.Signal()
	}()

	if err := worker.Start(context.Background()); err != nil {
		return supporting.AdaptError(err, 7)
	}

	if err := done.Await(); err != nil {
		return supporting.AdaptError(err, 10)
	}
	return nil
}
