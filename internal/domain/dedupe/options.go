package dedupe

type options struct {
	maxSize int
}

// Option configures a Window.
type Option func(*options)

// WithMaxSize bounds the number of remembered ids. Values below one are ignored.
func WithMaxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSize = n
		}
	}
}
