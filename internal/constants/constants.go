package constants

// Default ring geometry
const (
	// DefaultEntries is the default submission queue depth requested from
	// the kernel (rounded up to a power of two by the setup call).
	DefaultEntries = 64

	// DefaultHandoffCapacity bounds the multi-threaded adapter's hand-off
	// queue. A full queue blocks new callers, which is the backpressure
	// mechanism limiting in-flight concurrency.
	DefaultHandoffCapacity = 256
)

// Correlation identifiers
const (
	// CorrelationBase is the first correlation id a ring instance issues.
	// Values below it are reserved so adapters can encode sentinel state
	// in the low range without colliding with live operations.
	CorrelationBase = 64
)

// Fixed buffer pool
const (
	// DefaultFixedBufferSize is the size of each pre-registered buffer
	// when the caller does not specify one (64KB).
	DefaultFixedBufferSize = 64 * 1024
)
