package domain

// QueueEntry is a stream entry as delivered to the consumer group. ID is
// assigned by the queue and is monotonic within one stream.
type QueueEntry struct {
	ID     string
	Values map[string]string
}
