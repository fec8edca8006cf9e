// Package header decodes and encodes the ASAR header block.
//
// The header is a Chromium Pickle envelope around a UTF-8 JSON index:
//
//	offset 0:  size pickle length (always 4)
//	offset 4:  header pickle size
//	offset 8:  header pickle payload size (header pickle size - 4)
//	offset 12: JSON string length
//	offset 16: JSON string, zero-padded to a 4-byte boundary
//
// The data region starts immediately after the header pickle. The JSON index
// is decoded into a tree of Directory, File and Link nodes with the
// insertion order of every directory preserved.
package header
