package model

// 删除集合的结果状态。
const (
	DeleteStatusSuccess = "success"
	DeleteStatusNoop    = "noop"
)

// DeleteCollectionsResult 是删除一个或全部集合后的返回体。
type DeleteCollectionsResult struct {
	Message            string   `json:"message"`
	Status             string   `json:"status"`
	DeletedCollections []string `json:"deleted_collections"`
}
