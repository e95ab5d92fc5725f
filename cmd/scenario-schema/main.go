// Command scenario-schema writes JSON Schema documents for scenario scripts
// and body tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/model"
)

const (
	scenarioSchemaFile = "scenario.schema.json"
	bodiesSchemaFile   = "bodies.schema.json"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the schemas into")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}
	if err := writeAll(outDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schemas: %v\n", err)
		os.Exit(1)
	}
}

func writeAll(outDir string) error {
	if err := writeSchema(filepath.Join(outDir, scenarioSchemaFile), scenarioSchema()); err != nil {
		return err
	}
	return writeSchema(filepath.Join(outDir, bodiesSchemaFile), bodiesSchema())
}

func scenarioSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  true,
	}
	schema := reflector.Reflect(new(model.ScenarioScript))
	schema.Title = "Orrery Scenario Script"
	schema.Description = "Time-indexed actions replayed by the scenario player. Known action types: " +
		fmt.Sprint(model.ActionTypes)
	return schema
}

func bodiesSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	record := reflector.ReflectFromType(reflect.TypeOf(core.BodyRecord{}))
	record.Version = ""
	record.Title = "Body"

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Orrery Body Table",
		Description: "Bodies with orbital elements or a TLE, loaded at startup.",
		Type:        "array",
		Items:       record,
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
