// Package pipeline 消费包的生命周期事件：发送通知，并把审核通过的样本写入检索索引。
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/events"
	"tbkb-submission-go/pkg/log"
)

// SampleIndexer 把样本文档写入检索索引。
type SampleIndexer interface {
	IndexSample(ctx context.Context, doc model.SampleDocument) error
}

// Processor 封装了事件处理的所有依赖和逻辑。
type Processor struct {
	db       *gorm.DB
	notifier Notifier
	indexer  SampleIndexer
}

// NewProcessor 创建一个新的 Processor 实例，indexer 为 nil 时不写索引。
func NewProcessor(db *gorm.DB, notifier Notifier, indexer SampleIndexer) *Processor {
	return &Processor{
		db:       db,
		notifier: notifier,
		indexer:  indexer,
	}
}

// Process 处理一个生命周期事件。返回错误时事件会被重新投递，所以每一步都必须可以重复执行。
func (p *Processor) Process(ctx context.Context, event events.PackageEvent) error {
	log.Infof("[Processor] 开始处理事件, type: %s, package: %d", event.Type, event.PackageID)
	db := p.db.WithContext(ctx)

	switch event.Type {
	case events.TypeSubmitted:
		return p.notifyAdmins(ctx, db, event)
	case events.TypeRejected:
		return p.notifyOwner(ctx, db, event,
			fmt.Sprintf("Package %q has been rejected", event.PackageName),
			fmt.Sprintf("your package %q has been reviewed and rejected with reason:\n%s", event.PackageName, reasonOrDash(event.Reason)))
	case events.TypeAccepted:
		if err := p.notifyOwner(ctx, db, event,
			fmt.Sprintf("Package %q has been accepted", event.PackageName),
			fmt.Sprintf("your package %q has been reviewed and approved.", event.PackageName)); err != nil {
			return err
		}
		return p.indexAccepted(ctx, db, event.PackageID)
	case events.TypeChanged:
		log.Infof("[Processor] 包 %d 状态 %s -> %s", event.PackageID, event.FromState, event.ToState)
		return nil
	default:
		log.Warnf("[Processor] 未知的事件类型 %q, 忽略", event.Type)
		return nil
	}
}

func (p *Processor) notifyAdmins(ctx context.Context, db *gorm.DB, event events.PackageEvent) error {
	admins, err := repository.NewUserRepository(db).FindAdminsOnDuty()
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		log.Warnf("[Processor] 没有值班的管理员，包 %d 的提交通知未发送", event.PackageID)
		return nil
	}
	recipients := make([]string, 0, len(admins))
	for _, a := range admins {
		recipients = append(recipients, a.Email)
	}
	owner := "-"
	if u, err := p.findOwner(db, event.OwnerID); err != nil {
		return err
	} else if u != nil {
		owner = u.Username
	}
	return p.notifier.Notify(ctx, Message{
		Recipients: recipients,
		Subject:    "New data package submission",
		Body:       fmt.Sprintf("New data package %q has been submitted for review by %s.", event.PackageName, owner),
	})
}

// notifyOwner 通知包的所有者，包没有所有者时跳过。
func (p *Processor) notifyOwner(ctx context.Context, db *gorm.DB, event events.PackageEvent, subject, body string) error {
	owner, err := p.findOwner(db, event.OwnerID)
	if err != nil {
		return err
	}
	if owner == nil {
		return nil
	}
	return p.notifier.Notify(ctx, Message{
		Recipients: []string{owner.Email},
		Subject:    subject,
		Body:       fmt.Sprintf("Hi %s, %s", owner.Username, body),
	})
}

func (p *Processor) findOwner(db *gorm.DB, ownerID *uint) (*model.User, error) {
	if ownerID == nil {
		return nil, nil
	}
	user, err := repository.NewUserRepository(db).FindByID(*ownerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return user, err
}

// indexAccepted 把包内所有已关联样本的别名写入索引。
func (p *Processor) indexAccepted(ctx context.Context, db *gorm.DB, packageID uint) error {
	if p.indexer == nil {
		return nil
	}
	docs, err := BuildSampleDocuments(db, packageID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := p.indexer.IndexSample(ctx, doc); err != nil {
			log.Errorf("[Processor] 索引样本失败, document: %s, error: %v", doc.DocumentID, err)
			return err
		}
	}
	log.Infof("[Processor] 包 %d 共索引 %d 个样本", packageID, len(docs))
	return nil
}

// BuildSampleDocuments 为包内每个已关联样本的别名生成一个检索文档。
func BuildSampleDocuments(db *gorm.DB, packageID uint) ([]model.SampleDocument, error) {
	pkg, err := repository.NewPackageRepository(db).FindByID(packageID)
	if err != nil {
		return nil, err
	}
	aliases, err := repository.NewSampleAliasRepository(db).FindByPackage(packageID)
	if err != nil {
		return nil, err
	}
	links, err := repository.NewSequencingRepository(db).FindLinksByPackage(packageID)
	if err != nil {
		return nil, err
	}

	var sampleIDs []uint
	for _, a := range aliases {
		if a.SampleID != nil {
			sampleIDs = append(sampleIDs, *a.SampleID)
		}
	}
	samples, err := repository.NewSampleRepository(db).FindByIDs(sampleIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Sample, len(samples))
	for _, s := range samples {
		byID[s.ID] = s
	}

	var docs []model.SampleDocument
	for _, a := range aliases {
		if a.SampleID == nil {
			continue
		}
		doc := model.SampleDocument{
			DocumentID:  fmt.Sprintf("%d-%d", packageID, a.ID),
			SampleID:    *a.SampleID,
			PackageID:   packageID,
			PackageName: pkg.Name,
			AliasName:   a.Name,
		}
		if pkg.OwnerID != nil {
			doc.OwnerID = *pkg.OwnerID
		}
		if a.FastqPrefix != nil {
			doc.FastqPrefix = *a.FastqPrefix
		}
		if a.MatchSource != nil {
			doc.MatchSource = string(*a.MatchSource)
		}
		if s, ok := byID[*a.SampleID]; ok {
			doc.NCBITaxonID = s.NCBITaxonID
			if s.Country != nil {
				doc.Country = *s.Country
			}
			doc.SamplingFrom, doc.SamplingTo = s.SamplingDate.Bounds()
		}
		for _, l := range links {
			if l.SequencingFile != nil && l.SequencingFile.SampleID != nil && *l.SequencingFile.SampleID == *a.SampleID {
				doc.Files = append(doc.Files, l.Filename)
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func reasonOrDash(reason string) string {
	if reason == "" {
		return "-"
	}
	return reason
}
