package kafka

// ConvertMessage dispatches one conversion to the worker fleet. The trace
// ID ties worker logs back to the originating API request.
type ConvertMessage struct {
	JobID      string `json:"job_id"`
	TraceID    string `json:"trace_id"`
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	SourceName string `json:"source_name"`
	Format     string `json:"format"`
	Quality    string `json:"quality"`
}
