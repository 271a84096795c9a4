package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/woozymasta/geoannotator/internal/annotation"
	"github.com/woozymasta/geoannotator/internal/export"
	"github.com/woozymasta/geoannotator/internal/geo"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input  string `short:"i" long:"in"     description:"Drawn features (GeoJSON FeatureCollection). Reads from stdin if empty"`
	Labels string `short:"L" long:"labels" description:"YAML list of {label, notes} applied by position"`
	Dir    string `short:"o" long:"out"    description:"Output directory. Writes to stdout if empty"`
	Format string `short:"f" long:"format" description:"Output format" choice:"geojson" choice:"csv" default:"geojson"`
}

// labelEntry is one item of the labels file.
type labelEntry struct {
	Label string `yaml:"label"`
	Notes string `yaml:"notes"`
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

	if err := run(opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts Options, stdin io.Reader, stdout, stderr io.Writer) error {
	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return err
	}

	// Read Input
	var inputData []byte
	if opts.Input != "" {
		inputData, err = os.ReadFile(opts.Input)
	} else {
		inputData, err = io.ReadAll(stdin)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	features, err := geo.ParseFeatures(inputData)
	if err != nil {
		return fmt.Errorf("parse features: %w", err)
	}

	store := annotation.NewStore()
	for i, f := range features {
		if _, _, err := store.Add(f); err != nil {
			if errors.Is(err, geo.ErrUnsupportedGeometry) || errors.Is(err, geo.ErrInvalidGeometry) {
				fmt.Fprintf(stderr, "Skipping feature %d: %v\n", i+1, err)
				continue
			}
			return err
		}
	}

	if opts.Labels != "" {
		if err := applyLabels(store, opts.Labels); err != nil {
			return err
		}
	}

	if opts.Dir == "" {
		return export.Encode(stdout, store.All(), format)
	}

	path, err := export.New(opts.Dir).Export(store.All(), format)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "Successfully exported %d annotations to %s\n", store.Len(), path)
	return nil
}

// applyLabels sets label and notes by position after deduplication.
func applyLabels(store *annotation.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read labels: %w", err)
	}

	var entries []labelEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse labels: %w", err)
	}

	for i, e := range entries {
		if err := store.SetLabel(i, e.Label); err != nil {
			return fmt.Errorf("labels entry %d: %w", i+1, err)
		}
		if err := store.SetNotes(i, e.Notes); err != nil {
			return fmt.Errorf("labels entry %d: %w", i+1, err)
		}
	}
	return nil
}
