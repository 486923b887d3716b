// Package cmd wires the collaborators shared by the command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/bpmnvm/pkg/registry"
)

// NewRegistry returns a delegate registry holding the built-in delegates.
func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaultDelegates()

	return reg
}
