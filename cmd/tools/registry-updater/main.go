// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"retriever-agent/internal/common/validation"
	"retriever-agent/pkg/registry"
)

const defaultRegistryPath = "pkg/registry/activity-registry.json"

func main() {
	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "update":
		err = runUpdate(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "check":
		err = runCheck(os.Args[2:], os.Stdout)
	default:
		help(os.Stdout)
		return
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runUpdate(args []string) error {
	cmd := flag.NewFlagSet("update", flag.ContinueOnError)
	path := cmd.String("path", defaultRegistryPath, "Path to registry file")
	id := cmd.String("id", "", "Activity ID to update")
	field := cmd.String("field", "", "Field to update (status, version, timeout, retries, description)")
	value := cmd.String("value", "", "New value for the field")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	if *id == "" || *field == "" || *value == "" {
		return fmt.Errorf("id, field, and value are required for update")
	}
	return updateActivity(*path, *id, *field, *value)
}

func runValidate(args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	path := cmd.String("path", defaultRegistryPath, "Path to registry file")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := validateRegistry(reg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

// runCheck validates a job payload against an activity's input schema.
func runCheck(args []string, out io.Writer) error {
	cmd := flag.NewFlagSet("check", flag.ContinueOnError)
	path := cmd.String("path", "", "Path to registry file (default: built-in registry)")
	taskType := cmd.String("taskType", "retriever-search", "Task type whose input schema applies")
	payload := cmd.String("payload", "", "Path to a JSON payload")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	if *payload == "" {
		return fmt.Errorf("payload is required for check")
	}

	reg, err := loadOrDefault(*path)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(*payload)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	problems, err := checkPayload(reg, *taskType, raw)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("payload does not match %s input schema (%d problems)", *taskType, len(problems))
	}
	fmt.Fprintf(out, "Payload is valid for %s.\n", *taskType)
	return nil
}

func loadOrDefault(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return registry.Default()
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil
}

func validateRegistry(reg *registry.ActivityRegistry) error {
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for _, activity := range reg.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if taskTypes[activity.TaskType] {
			return fmt.Errorf("duplicate task type: %s", activity.TaskType)
		}
		taskTypes[activity.TaskType] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", activity.ID)
		}
		if _, err := activity.TimeoutDuration(); err != nil {
			return err
		}
		if _, err := validation.NewValidator(activity.InputSchema); err != nil {
			return fmt.Errorf("activity %s input schema: %w", activity.ID, err)
		}
		if _, err := validation.NewValidator(activity.OutputSchema); err != nil {
			return fmt.Errorf("activity %s output schema: %w", activity.ID, err)
		}
	}
	return nil
}

func checkPayload(reg *registry.ActivityRegistry, taskType string, raw []byte) ([]string, error) {
	activity, err := reg.ByTaskType(taskType)
	if err != nil {
		return nil, err
	}
	v, err := validation.NewValidator(activity.InputSchema)
	if err != nil {
		return nil, err
	}
	result, err := v.ValidateJSON(raw)
	if err != nil {
		return nil, err
	}
	return result.GetErrorMessages(), nil
}

func updateActivity(path, id, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var activity *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == id {
			activity = &reg.Activities[i]
			break
		}
	}
	if activity == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	switch field {
	case "status":
		activity.ImplementationStatus = value
	case "version":
		activity.Version = value
	case "description":
		activity.Description = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		activity.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		activity.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return saveRegistry(reg, path)
}

func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: registry-updater <command> [flags]

Commands:
  update    Update an existing activity's field
  validate  Validate the registry file and compile its schemas
  check     Validate a job payload against an activity's input schema
  help      Show this help message

Examples:
  registry-updater update -id retrieval.document.search -field timeout -value 20s
  registry-updater validate -path pkg/registry/activity-registry.json
  registry-updater check -taskType retriever-search -payload payload.json`)
}
