// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents an asynchronous ingestion job.
// 文件任务通过 ObjectName 指向 MinIO 中的源文件；URL 任务只携带 URL。
type IngestTask struct {
	JobID      string `json:"job_id"`
	ObjectName string `json:"object_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	URL        string `json:"url,omitempty"`
	Domain     string `json:"domain"`
}

// Source 返回写入台账与向量 payload 的来源标签。
func (t IngestTask) Source() string {
	if t.URL != "" {
		return t.URL
	}
	return t.FileName
}
