// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time to ensure the CLI and library work
// correctly regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// WorkItemDocumentSchema is the embedded work-item document JSON schema.
//
// This allows upload validation to work in installed binaries and library
// consumers without requiring the schema files to be present on disk.
//
//go:embed work-item-document.schema.json
var WorkItemDocumentSchema []byte
