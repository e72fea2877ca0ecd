// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"tbkb-submission-go/internal/config"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/pkg/log"
)

var ESClient *elasticsearch.Client

// sampleMapping 是审核通过的样本索引结构。
const sampleMapping = `{
	"mappings": {
		"properties": {
			"document_id": { "type": "keyword" },
			"sample_id": { "type": "long" },
			"package_id": { "type": "long" },
			"package_name": { "type": "text", "fields": { "raw": { "type": "keyword" } } },
			"alias_name": { "type": "keyword", "normalizer": "lowercase" },
			"fastq_prefix": { "type": "keyword" },
			"match_source": { "type": "keyword" },
			"country": { "type": "keyword" },
			"sampling_from": { "type": "date", "format": "yyyy-MM-dd" },
			"sampling_to": { "type": "date", "format": "yyyy-MM-dd" },
			"ncbi_taxon_id": { "type": "long" },
			"owner_id": { "type": "long" },
			"files": { "type": "keyword" }
		}
	},
	"settings": {
		"analysis": {
			"normalizer": {
				"lowercase": { "type": "custom", "filter": ["lowercase"] }
			}
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: esCfg.InsecureSkipVerify},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(sampleMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// SampleIndex 把审核通过的样本写入 Elasticsearch。
type SampleIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewSampleIndex 创建一个写入 index 的 SampleIndex。
func NewSampleIndex(client *elasticsearch.Client, index string) *SampleIndex {
	return &SampleIndex{client: client, index: index}
}

// IndexSample 以 DocumentID 为主键写入文档，重复写入会覆盖旧文档。
func (s *SampleIndex) IndexSample(ctx context.Context, doc model.SampleDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.DocumentID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引样本到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index sample document")
	}
	return nil
}
