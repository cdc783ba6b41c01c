package chunk

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/labstack/gommon/log"
)

// DefaultOrderBy is the column chunks are ordered by when a table has it.
const DefaultOrderBy = "key"

type options struct {
	orderBy string
	verbose bool
	logger  *log.Logger
	mem     memory.Allocator
}

type Option func(*options)

// WithOrderBy sets the column chunks are ordered by.
func WithOrderBy(column string) Option {
	return func(o *options) {
		if column != "" {
			o.orderBy = column
		}
	}
}

// WithVerbose toggles the operator banner printed before every call.
func WithVerbose(verbose bool) Option {
	return func(o *options) {
		o.verbose = verbose
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAllocator sets the allocator chunk records are built with.
func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) {
		if mem != nil {
			o.mem = mem
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		orderBy: DefaultOrderBy,
		verbose: true,
		logger:  log.New("chunk"),
		mem:     memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
