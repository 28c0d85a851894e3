// Package services defines shared utilities consumed by the composition
// stages and the external tool adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, task IDs, and stage names for
//     logging.
//   - Structured error markers plus the Wrap helper so failures keep their
//     stage context and can be classified with errors.Is.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
