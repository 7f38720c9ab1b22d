package logger

// Standard field keys for structured logging. Use these consistently across
// all log statements so logs aggregate and query cleanly.
const (
	// Request identification
	KeyRequestID = "request_id" // chi middleware request ID
	KeyClientIP  = "client_ip"  // client IP address (without port)
	KeyReferer   = "referer"    // request referer header

	// Proxy operation
	KeyURL         = "url"         // normalized upstream URL
	KeyFingerprint = "fingerprint" // cache/single-flight key
	KeyTransform   = "transform"   // canonical transform options string
	KeyOutcome     = "outcome"     // request outcome: hit, miss, coalesced, error kind
	KeyStatus      = "status"      // HTTP status code served

	// Fetch / cache I/O
	KeyContentType = "content_type" // sniffed content type
	KeyBytes       = "bytes"        // payload byte count
	KeyDuration    = "duration"     // operation duration
	KeyPath        = "path"         // filesystem path

	// Resize pool
	KeyWorker = "worker" // resize worker index
	KeyJobs   = "jobs"   // jobs completed by a worker

	// Errors
	KeyError = "error" // error value
)
