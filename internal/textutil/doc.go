// Package textutil provides filename helpers used when naming composed outputs.
package textutil
