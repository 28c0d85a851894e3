// Package ffprobe runs ffprobe and decodes the JSON it prints.
//
// Catalog ingestion uses ProbeDuration to measure source clips and the
// composer uses Inspect to report the duration of finished outputs. Tests
// replace the process runner with SetRunnerForTests.
package ffprobe
