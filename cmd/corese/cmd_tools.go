package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"corese/pkg/governance"
	"corese/pkg/tools"
)

// newToolsCmd exposes the agent tool surface from the command line: list the
// registered tool definitions, or dispatch a single call with JSON arguments.
func newToolsCmd(configPath *string) *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke the agent tool surface",
	}
	toolsCmd.AddCommand(newToolsListCmd(configPath), newToolsCallCmd(configPath))
	return toolsCmd
}

func newToolsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tool definitions",
		RunE: func(_ *cobra.Command, _ []string) error {
			registry, cleanup, err := openRegistry(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			return printJSON(registry.Definitions())
		},
	}
}

func newToolsCallCmd(configPath *string) *cobra.Command {
	var argsJSON, actorID, actorType string

	cmd := &cobra.Command{
		Use:   "call <tool-name>",
		Short: "Invoke one tool with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			registry, cleanup, err := openRegistry(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			toolArgs := map[string]any{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("failed to parse --args as JSON object: %w", err)
				}
			}

			actor := tools.Actor{ID: actorID, Type: actorType}
			result, err := registry.Call(c.Context(), args[0], toolArgs, actor)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")
	cmd.Flags().StringVar(&actorID, "actor", "cli", "actor ID recorded on mutations")
	cmd.Flags().StringVar(&actorType, "actor-type", "human", "actor type (agent or human)")
	return cmd
}

// openRegistry wires a tool registry over a fresh engine.
func openRegistry(configPath string) (*tools.Registry, func(), error) {
	eng, err := openEngine(configPath)
	if err != nil {
		return nil, nil, err
	}

	registry := tools.NewRegistry(&tools.Service{
		Store:    eng.store,
		Paths:    eng.paths,
		Rules:    eng.rules,
		Ledger:   eng.events,
		Workflow: governance.NewWorkflow(eng.store, eng.paths, eng.events),
		Metrics:  eng.metrics,
	})
	return registry, eng.close, nil
}
