package model

// IngestSummary 是一次同步入库成功后返回给调用方的摘要。
type IngestSummary struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Collection  string `json:"collection"`
	TotalChunks int    `json:"total_chunks"`
	Vectors     int    `json:"vectors"`
	Source      string `json:"source"`
	Domain      string `json:"domain"`
}

// IngestAccepted 是异步入库请求被接受后的返回体。
type IngestAccepted struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
	Source string `json:"source"`
	Domain string `json:"domain"`
}
