package conductor

import (
	"fmt"

	"github.com/gobwas/glob"
)

// ChannelFilter selects publications by channel using glob patterns
type ChannelFilter struct {
	channelGlobs []glob.Glob
}

// NewChannelFilter creates a filter from channel patterns.
// Empty patterns match everything
func NewChannelFilter(patterns ...string) (*ChannelFilter, error) {
	filter := &ChannelFilter{
		channelGlobs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid channel pattern %q: %w", pattern, err)
		}
		filter.channelGlobs = append(filter.channelGlobs, g)
	}

	return filter, nil
}

// Match returns true if the channel matches any configured pattern.
// If no patterns are configured, all channels match
func (f *ChannelFilter) Match(channel string) bool {
	if len(f.channelGlobs) == 0 {
		return true
	}
	for _, g := range f.channelGlobs {
		if g.Match(channel) {
			return true
		}
	}
	return false
}
