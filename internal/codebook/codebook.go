// Package codebook defines the feature codebook: the categories and feature
// codes (with definitions and examples) in effect for annotation.
package codebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FeatureDef documents one feature code.
type FeatureDef struct {
	Code        string `json:"Code" validate:"required"`
	Definition  string `json:"Definition"`
	Example1    string `json:"Example1,omitempty"`
	Example2    string `json:"Example2,omitempty"`
	NonExample1 string `json:"NonExample1,omitempty"`
	NonExample2 string `json:"NonExample2,omitempty"`
}

// UnmarshalJSON accepts both the capitalized exchange keys and the
// lowercase example aliases older exports used.
func (f *FeatureDef) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code        string `json:"Code"`
		Definition  string `json:"Definition"`
		Example1    string `json:"Example1"`
		Example2    string `json:"Example2"`
		NonExample1 string `json:"NonExample1"`
		NonExample2 string `json:"NonExample2"`
		LowerEx1    string `json:"example1"`
		LowerEx2    string `json:"example2"`
		LowerNon1   string `json:"nonexample1"`
		LowerNon2   string `json:"nonexample2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FeatureDef{
		Code:        strings.TrimSpace(raw.Code),
		Definition:  raw.Definition,
		Example1:    firstNonEmpty(raw.Example1, raw.LowerEx1),
		Example2:    firstNonEmpty(raw.Example2, raw.LowerEx2),
		NonExample1: firstNonEmpty(raw.NonExample1, raw.LowerNon1),
		NonExample2: firstNonEmpty(raw.NonExample2, raw.LowerNon2),
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Codebook is an immutable snapshot supplied by the codebook provider.
// Callers must not mutate it after handing it to the engine.
type Codebook struct {
	Categories []string                `json:"categories" validate:"required,min=1,dive,required"`
	Features   map[string][]FeatureDef `json:"features" validate:"required,dive,dive"`
}

// Validation errors.
var (
	ErrUnknownCategory = errors.New("category not in codebook")
	ErrDuplicateCode   = errors.New("duplicate feature code")
	ErrMissingFeatures = errors.New("category has no feature list")
)

var validate = validator.New()

// Validate checks the codebook's structure: every category is named and
// has a feature list, every feature has a code, and codes are unique
// within a category.
func (c *Codebook) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid codebook: %w", err)
	}
	for _, cat := range c.Categories {
		defs, ok := c.Features[cat]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingFeatures, cat)
		}
		seen := make(map[string]bool, len(defs))
		for _, d := range defs {
			if seen[d.Code] {
				return fmt.Errorf("%w: %q in category %q", ErrDuplicateCode, d.Code, cat)
			}
			seen[d.Code] = true
		}
	}
	return nil
}

// HasCategory reports whether the codebook lists the category.
func (c *Codebook) HasCategory(category string) bool {
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}

// Codes returns the category's feature codes in codebook order. Features
// without a code are skipped.
func (c *Codebook) Codes(category string) []string {
	defs := c.Features[category]
	codes := make([]string, 0, len(defs))
	for _, d := range defs {
		if d.Code != "" {
			codes = append(codes, d.Code)
		}
	}
	return codes
}

// HasCode reports whether the category defines the code.
func (c *Codebook) HasCode(category, code string) bool {
	for _, d := range c.Features[category] {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Definitions returns the category's definitions keyed by code.
func (c *Codebook) Definitions(category string) map[string]FeatureDef {
	defs := c.Features[category]
	out := make(map[string]FeatureDef, len(defs))
	for _, d := range defs {
		if d.Code != "" {
			out[d.Code] = d
		}
	}
	return out
}

// Load reads a codebook file, choosing the format by extension (.json or
// .xlsx), and validates it.
func Load(path string) (*Codebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading codebook: %w", err)
	}

	var cb *Codebook
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		cb, err = ParseXLSX(data)
	default:
		cb, err = ParseJSON(data)
	}
	if err != nil {
		return nil, err
	}

	if err := cb.Validate(); err != nil {
		return nil, err
	}
	return cb, nil
}

// ParseJSON decodes the codebook exchange format.
func ParseJSON(data []byte) (*Codebook, error) {
	var cb Codebook
	if err := json.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("parsing codebook JSON: %w", err)
	}
	if cb.Features == nil {
		cb.Features = map[string][]FeatureDef{}
	}
	return &cb, nil
}
