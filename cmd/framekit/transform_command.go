package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/arkilian/framekit/internal/catalog"
	"github.com/arkilian/framekit/internal/codec"
	"github.com/arkilian/framekit/internal/service"
	"github.com/arkilian/framekit/internal/transform"
)

type transformOptions struct {
	pipelineFile string
	inFile       string
	outFile      string
	indent       bool
}

func (o *transformOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.pipelineFile, "pipeline", "p", "", "Pipeline file (YAML, TOML or JSON)")
	fs.StringVarP(&o.inFile, "in", "i", "-", "Input frames JSON file, - for stdin")
	fs.StringVarP(&o.outFile, "out", "o", "-", "Output file, - for stdout")
	fs.BoolVar(&o.indent, "indent", false, "Indent the output JSON (default when writing to a terminal)")
}

func newTransformCommand(global *globalOptions) *cobra.Command {
	opts := &transformOptions{}

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply a pipeline file to frames offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.pipelineFile == "" {
				return fmt.Errorf("--pipeline is required")
			}
			steps, err := readPipelineFile(opts.pipelineFile)
			if err != nil {
				return err
			}

			input, err := readInput(cmd.InOrStdin(), opts.inFile)
			if err != nil {
				return err
			}
			frames, err := codec.DecodeFrames(input)
			if err != nil {
				return err
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			svc := service.New(service.Options{Logger: logger})
			out, err := svc.Transform(cmd.Context(), steps, frames)
			if err != nil {
				return err
			}

			encoded, err := codec.EncodeFrames(out)
			if err != nil {
				return err
			}
			if opts.indent || writesToTerminal(cmd.OutOrStdout(), opts.outFile) {
				var buf bytes.Buffer
				if err := json.Indent(&buf, encoded, "", "  "); err != nil {
					return err
				}
				encoded = buf.Bytes()
			}
			encoded = append(encoded, '\n')
			return writeOutput(cmd.OutOrStdout(), opts.outFile, encoded)
		},
	}
	opts.bind(cmd.Flags())
	return cmd
}

// readPipelineFile accepts either a bare list of steps or a pipeline
// definition with a steps member. TOML files must use the definition form.
func readPipelineFile(path string) ([]transform.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	unmarshal := json.Unmarshal
	stepList := true
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	case ".toml":
		unmarshal = toml.Unmarshal
		stepList = false
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported pipeline file format: %s", filepath.Ext(path))
	}

	if stepList {
		var steps []transform.Config
		if err := unmarshal(data, &steps); err == nil {
			return steps, nil
		}
	}
	var def catalog.PipelineDefinition
	if err := unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline file %s: %w", path, err)
	}
	return def.Steps, nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return data, nil
}

func writesToTerminal(stdout io.Writer, path string) bool {
	if path != "" && path != "-" {
		return false
	}
	f, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frames: %w", err)
	}
	return nil
}
