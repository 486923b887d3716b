package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/bpmnvm/pkg/cmd"
	"github.com/dukex/bpmnvm/pkg/definition"
	"github.com/dukex/bpmnvm/pkg/expression"
	"github.com/dukex/bpmnvm/pkg/log"
)

var ErrInvalidDefinitions = errors.New("invalid process definitions found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Compile the process documents of a directory and report the invalid ones",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definitions-path",
				Usage:    "Directory of the JSON process documents",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("bpmnvm").With("action", "validate")

			compiler, err := definition.NewCompiler(logger, cmd.NewRegistry(logger), expression.NewEvaluator(logger, nil))
			if err != nil {
				return fmt.Errorf("failed to create definition compiler: %w", err)
			}

			return validateDefinitions(os.Stdout, compiler, command.String("definitions-path"))
		},
	}
}

func validateDefinitions(out io.Writer, compiler *definition.Compiler, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	_, _ = fmt.Fprintln(out, "Process Definition Validation Results:")
	_, _ = fmt.Fprintln(out, "======================================")

	invalid := 0

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}

		compiled, err := compiler.Compile(data)
		if err != nil {
			invalid++

			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				_, _ = fmt.Fprintf(out, "  %s: INVALID: %v\n", name, validationErrors)
			} else {
				_, _ = fmt.Fprintf(out, "  %s: INVALID: %v\n", name, err)
			}

			continue
		}

		_, _ = fmt.Fprintf(out, "  %s: VALID (key %s, %d activities)\n", name, compiled.Key, len(compiled.Activities()))
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Total definitions: %d\n", len(files))
	_, _ = fmt.Fprintf(out, "  Valid definitions: %d\n", len(files)-invalid)
	_, _ = fmt.Fprintf(out, "  Invalid definitions: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDefinitions, invalid)
	}

	return nil
}
