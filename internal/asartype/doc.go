// Package asartype defines the entry, error, sink and progress types shared
// by the archive reader, its internal components and the public API.
package asartype
