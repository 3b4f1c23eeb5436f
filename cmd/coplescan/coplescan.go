package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/coplescan/coplescan/pkg/infer"
	"github.com/coplescan/coplescan/server"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	nominalDefaultDB := "$HOME/coplescan/config.sqlite"
	nominalDefaultResults := "$HOME/coplescan/results.sqlite"

	parser := argparse.NewParser("coplescan", "Visual quality inspection station")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultDB})
	resultsFile := parser.String("r", "results", &argparse.Options{Help: "Results database file", Default: nominalDefaultResults})
	addr := parser.String("", "addr", &argparse.Options{Help: "HTTP listen address", Default: ":8081"})
	ortLib := parser.String("", "ort", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	expand := func(nominal, actual string) string {
		if actual == nominal {
			return filepath.Join(home, "coplescan", filepath.Base(nominal))
		}
		return actual
	}

	check(infer.Initialize(*ortLib))
	defer infer.Shutdown()

	srv, err := server.NewServer(logger,
		expand(nominalDefaultDB, *configFile),
		expand(nominalDefaultResults, *resultsFile))
	check(err)
	check(srv.RunHTTP(*addr))
}
