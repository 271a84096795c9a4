package main

import (
	"fmt"
	"log"
	"os"

	"github.com/woozymasta/geoannotator/assets"
	"github.com/woozymasta/geoannotator/internal/config"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	ConfigFile string `short:"c" long:"config" env:"CONFIG_FILE" description:"Path to configuration file (page title)" default:"config.yaml"`
	Output     string `short:"o" long:"out"    description:"Output HTML file" default:"index.html"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal("error load config: ", err)
	}

	page, err := assets.Page(cfg.Title)
	if err != nil {
		log.Fatal("error render page: ", err)
	}

	if err := os.WriteFile(opts.Output, page, 0644); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("minify done: %s (%d bytes)\n", opts.Output, len(page))
}
