package workerpool

// DefaultConcurrency is the number of workers used when none is configured.
const DefaultConcurrency = 8

// Mode selects the order in which results are handed to the consumer.
type Mode int

const (
	// Unordered hands results over as they complete.
	Unordered Mode = iota
	// Ordered hands results over in input order, holding back early finishers.
	Ordered
)

func (m Mode) String() string {
	if m == Ordered {
		return "ordered"
	}
	return "unordered"
}

// Config holds configuration for the worker pool.
type Config struct {
	// Concurrency is the maximum number of inputs in flight (dispatched but not yet consumed).
	// Default: 8
	Concurrency int

	// Mode is the result delivery order.
	// Default: Unordered
	Mode Mode
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Mode:        Unordered,
	}
}
