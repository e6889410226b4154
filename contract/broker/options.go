package broker

// QueueOptions represents enqueue parameters for a job.
// Seconds are preferred over time units for transport-agnostic mapping.
// TTRSeconds (time to run) is advisory and enforced by the consuming worker.
type QueueOptions struct {
	Queue        string
	Priority     int
	DelaySeconds int
	TTRSeconds   int
	Headers      map[string]string
}
