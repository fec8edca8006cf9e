package main

import (
	"context"
	"strings"

	"github.com/meigma/asar"
	asarhttp "github.com/meigma/asar/http"
)

// openArchive opens a local archive or, for http(s) URLs, a remote one
// read with range requests.
func (c *cli) openArchive(ctx context.Context, location string, opts ...asar.Option) (*asar.Archive, error) {
	opts = append([]asar.Option{asar.WithLogger(c.log())}, opts...)

	if !isURL(location) {
		return asar.OpenFile(location, opts...)
	}
	src, err := asarhttp.NewSource(location, asarhttp.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return asar.Open(src, opts...)
}

func isURL(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
