// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, ensuring the binary never
// runs with partial, malformed, or missing configuration.
//
// Built-in rules cover most fields.  One struct-level rule is registered
// here: the preview suffix must not equal the main domain, otherwise every
// production subdomain would be swallowed by the allow-list.
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
//   - Section dividers use the simple comment style requested.

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterStructValidation(func(sl validator.StructLevel) {
		s := sl.Current().Interface().(Site)
		if s.PreviewSuffix != "" && strings.EqualFold(s.PreviewSuffix, s.MainDomain) {
			sl.ReportError(s.PreviewSuffix, "PreviewSuffix", "preview_suffix", "nemain", "")
		}
	}, Site{})
	return val
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}
