package iac

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// ErrInvalidDocument marks structural problems in an IaC document.
var ErrInvalidDocument = errors.New("invalid runbook document")

// Parse decodes one IaC document. Unknown fields are rejected so typos in
// operator YAML fail loudly instead of silently dropping a safety field.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.check(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Render encodes a document to YAML.
func Render(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode runbook document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// check validates what the YAML schema itself cannot express. Full domain
// validation happens on create; this catches documents that could not
// possibly become a runbook.
func (d *Document) check() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDocument)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidDocument)
	}
	if d.TargetOS != "" && !models.TargetOS(d.TargetOS).IsValid() {
		return fmt.Errorf("%w: unknown target_os %q", ErrInvalidDocument, d.TargetOS)
	}
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("%w: step %d: name is required", ErrInvalidDocument, i+1)
		}
		if !models.StepType(s.Type).IsValid() {
			return fmt.Errorf("%w: step %q: unknown step_type %q", ErrInvalidDocument, s.Name, s.Type)
		}
		switch models.StepType(s.Type) {
		case models.StepCommand:
			if s.CommandLinux == "" && s.CommandWindows == "" {
				return fmt.Errorf("%w: step %q: command steps need command_linux or command_windows",
					ErrInvalidDocument, s.Name)
			}
		case models.StepAPI:
			if s.APIEndpoint == "" {
				return fmt.Errorf("%w: step %q: api steps need api_endpoint", ErrInvalidDocument, s.Name)
			}
		}
		if s.TargetOS != "" && !models.TargetOS(s.TargetOS).IsValid() {
			return fmt.Errorf("%w: step %q: unknown target_os %q", ErrInvalidDocument, s.Name, s.TargetOS)
		}
		if s.APIBodyType != "" && !models.APIBodyType(s.APIBodyType).IsValid() {
			return fmt.Errorf("%w: step %q: unknown api_body_type %q", ErrInvalidDocument, s.Name, s.APIBodyType)
		}
	}
	return nil
}
