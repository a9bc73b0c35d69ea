// Package model 定义了服务内部流转与持久化使用的数据结构。
package model

// Chunk 是从源文本切分出的一个有界片段，携带上一片段尾部的重叠内容。
// 它只在入库流程中短暂存在，不单独持久化。
type Chunk struct {
	Text   string
	Length int
}
