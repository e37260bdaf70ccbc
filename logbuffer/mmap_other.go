//go:build !unix

package logbuffer

// MappedResource is unavailable on this platform
type MappedResource struct {
	HeapResource
}

// MapNewFile is unavailable on this platform
func MapNewFile(path string, termLength int32) (*MappedResource, error) {
	return nil, ErrMappingUnsupported
}

// MapExistingFile is unavailable on this platform
func MapExistingFile(path string) (*MappedResource, error) {
	return nil, ErrMappingUnsupported
}

// Path returns an empty path
func (m *MappedResource) Path() string {
	return ""
}
