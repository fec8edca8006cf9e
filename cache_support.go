package asar

import "bytes"

// readCached returns the content of a file entry, consulting the LRU cache
// when one is configured. Callers receive their own copy.
func (a *Archive) readCached(e *Entry) ([]byte, error) {
	if a.cache == nil || e.Size > MaxCachedFileSize {
		return a.readAll(e)
	}

	// Fast path, avoids singleflight overhead.
	if data, ok := a.cache.Get(e.Path); ok {
		a.log().Debug("cache hit", "path", e.Path)
		return bytes.Clone(data), nil
	}

	result, err, shared := a.readGroup.Do(e.Path, func() (any, error) {
		// Double-check after acquiring singleflight
		if data, ok := a.cache.Get(e.Path); ok {
			return data, nil
		}
		data, err := a.readAll(e)
		if err != nil {
			return nil, err
		}
		a.cache.Add(e.Path, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	a.log().Debug("cache miss", "path", e.Path, "shared", shared)

	data, _ := result.([]byte) //nolint:errcheck // the group only returns []byte
	return bytes.Clone(data), nil
}

// CacheLen reports the number of files currently held by the cache.
func (a *Archive) CacheLen() int {
	if a.cache == nil {
		return 0
	}
	return a.cache.Len()
}
