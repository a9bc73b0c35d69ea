package model

// MetadataRecord 是每个集合在台账文件中的一条入库摘要。
// 同一集合再次入库时原地更新，而不是追加新记录。
type MetadataRecord struct {
	Collection string `json:"collection"`
	Vectors    int    `json:"vectors"`
	EmbedModel string `json:"embed_model"`
	Domain     string `json:"domain"`
	Source     string `json:"source"`
	IndexedAt  string `json:"indexed_at"`
}
