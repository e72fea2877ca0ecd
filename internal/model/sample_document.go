package model

// SampleDocument 定义了存储在 Elasticsearch 中的样本文档结构。
// 包通过审核后，包内匹配到的样本被写入索引，供检索使用。
type SampleDocument struct {
	DocumentID   string   `json:"document_id"` // 唯一标识，packageId + aliasId
	SampleID     uint     `json:"sample_id"`
	PackageID    uint     `json:"package_id"`
	PackageName  string   `json:"package_name"`
	AliasName    string   `json:"alias_name"`
	FastqPrefix  string   `json:"fastq_prefix,omitempty"`
	MatchSource  string   `json:"match_source"`
	Country      string   `json:"country,omitempty"`
	SamplingFrom string   `json:"sampling_from,omitempty"`
	SamplingTo   string   `json:"sampling_to,omitempty"`
	NCBITaxonID  int64    `json:"ncbi_taxon_id"`
	OwnerID      uint     `json:"owner_id"`
	Files        []string `json:"files,omitempty"`
}

// SampleSearchResult 是返回给前端的样本检索结果。
type SampleSearchResult struct {
	SampleDocument
	Score float64 `json:"score"`
}
