package pipeline

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vintagevision/vintagevision/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaPrinter = message.NewPrinter(language.English)

// Schemas holds the compiled JSON Schema for each stage payload.
type Schemas struct {
	byStage map[model.Stage]*jsonschema.Schema
}

// CompileSchemas compiles the embedded stage schemas.
func CompileSchemas() (*Schemas, error) {
	compiler := jsonschema.NewCompiler()
	out := &Schemas{byStage: make(map[model.Stage]*jsonschema.Schema, len(model.Stages))}

	for _, stage := range model.Stages {
		name := string(stage) + ".json"
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: read schema %s", name)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: parse schema %s", name)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, eris.Wrapf(err, "pipeline: add schema %s", name)
		}
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: compile schema %s", name)
		}
		out.byStage[stage] = sch
	}
	return out, nil
}

// Decode validates raw against the stage schema and decodes it into dst,
// which must already hold the stage defaults. Top-level fields that fail
// validation are dropped so dst keeps its default for them. The returned
// issues describe every violation; an empty slice means raw was valid.
func (s *Schemas) Decode(stage model.Stage, raw json.RawMessage, dst any) []string {
	sch, ok := s.byStage[stage]
	if !ok {
		return []string{fmt.Sprintf("no schema for stage %s", stage)}
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{"/: not valid JSON"}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return []string{"/: expected an object"}
	}

	issues, drop := validate(sch, doc)
	for field := range drop {
		delete(obj, field)
	}

	cleaned, err := json.Marshal(obj)
	if err != nil {
		return append(issues, "/: "+err.Error())
	}
	if err := json.Unmarshal(cleaned, dst); err != nil {
		return append(issues, "/: "+err.Error())
	}
	return issues
}

// validate returns formatted leaf violations and the set of top-level
// fields they touch.
func validate(sch *jsonschema.Schema, doc any) ([]string, map[string]bool) {
	err := sch.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{"schema: " + err.Error()}, nil
	}

	var issues []string
	drop := make(map[string]bool)
	collectLeaves(ve, &issues, drop)
	sort.Strings(issues)
	return issues, drop
}

func collectLeaves(ve *jsonschema.ValidationError, issues *[]string, drop map[string]bool) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
			drop[ve.InstanceLocation[0]] = true
		}
		*issues = append(*issues, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, issues, drop)
	}
}
