package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed declaration.schema.json
var declarationSchema []byte

const declarationSchemaID = "https://fusionctl.dev/schemas/declaration.json"

// compileDeclarationSchema compiles the embedded declaration schema.
func compileDeclarationSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(declarationSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse declaration schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(declarationSchemaID, doc); err != nil {
		return nil, fmt.Errorf("failed to add declaration schema: %w", err)
	}
	return compiler.Compile(declarationSchemaID)
}

// DeclarationSchema returns the JSON Schema that declarations are validated against.
func DeclarationSchema() []byte {
	out := make([]byte, len(declarationSchema))
	copy(out, declarationSchema)
	return out
}

// validateDocument checks a generic document against the schema and returns
// one ValidationError per failing leaf.
func validateDocument(schema *jsonschema.Schema, doc interface{}, file string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode declaration: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode declaration: %w", err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	var out ValidationErrors
	collectSchemaErrors(verr, file, message.NewPrinter(language.English), &out)
	if len(out) == 0 {
		out = append(out, ValidationError{File: file, Message: verr.Error()})
	}
	return out
}

func collectSchemaErrors(verr *jsonschema.ValidationError, file string, p *message.Printer, out *ValidationErrors) {
	if len(verr.Causes) == 0 {
		*out = append(*out, ValidationError{
			File:    file,
			Path:    "/" + strings.Join(verr.InstanceLocation, "/"),
			Message: verr.ErrorKind.LocalizedString(p),
		})
		return
	}
	for _, cause := range verr.Causes {
		collectSchemaErrors(cause, file, p, out)
	}
}
