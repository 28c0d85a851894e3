// Package normalize transcodes selected clips to one uniform H.264/AAC
// profile so they can be joined by a stream-copy concat.
//
// NormalizeAll runs one ffmpeg process per clip on a bounded pool. Results
// are placed by input index, so the returned artifact list always matches
// the clip order regardless of which transcode finishes first. The first
// failure cancels the remaining jobs and every artifact written so far is
// removed.
package normalize
