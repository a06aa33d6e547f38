package pla

import (
	"plaindex/pkg/core/segment"
	"plaindex/pkg/core/structure"
	"plaindex/pkg/logging"
)

type settings struct {
	segment []segment.Option
	filter  structure.Filter
	logger  *logging.Logger
}

type Option func(*settings)

// WithSegmentOptions passes slope policy and partitioning through to the
// segmenter.
func WithSegmentOptions(opts ...segment.Option) Option {
	return func(s *settings) { s.segment = append(s.segment, opts...) }
}

// WithFilter attaches a membership filter consulted by RankOf before the
// dataset is searched.
func WithFilter(f structure.Filter) Option {
	return func(s *settings) { s.filter = f }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(opts []Option) settings {
	s := settings{logger: logging.Noop()}
	for _, fn := range opts {
		fn(&s)
	}
	if s.logger == nil {
		s.logger = logging.Noop()
	}
	return s
}
