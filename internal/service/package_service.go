package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"tbkb-submission-go/internal/lock"
	"tbkb-submission-go/internal/matching"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/pkg/events"
	"tbkb-submission-go/pkg/log"
)

// EventPublisher 发布包的生命周期事件，由 Kafka 生产者实现。
type EventPublisher interface {
	Publish(ctx context.Context, event events.PackageEvent) error
}

// CreatePackageRequest 是新建包时的参数。
type CreatePackageRequest struct {
	Name         string  `json:"name" binding:"required"`
	Description  *string `json:"description"`
	NCBITaxonID  *int64  `json:"ncbiTaxonId"`
	BioprojectID *int64  `json:"bioprojectId"`
}

// PackageDetail 是包的详情视图。
type PackageDetail struct {
	Package         *model.Package              `json:"package"`
	Stats           *model.PackageStats         `json:"stats"`
	Aliases         []*model.SampleAlias        `json:"aliases"`
	SequencingFiles []*model.SequencingFileLink `json:"sequencingFiles"`
}

// PackageService 接口定义了包的匹配与生命周期操作。
// user 为 nil 表示系统内部调用，不做权限检查。
type PackageService interface {
	CreatePackage(ctx context.Context, owner *model.User, req CreatePackageRequest) (*model.Package, error)
	GetPackage(ctx context.Context, user *model.User, id uint) (*PackageDetail, error)
	RunMatch(ctx context.Context, user *model.User, id uint) (*matching.Report, error)
	Submit(ctx context.Context, user *model.User, id uint) (*model.Package, error)
	Approve(ctx context.Context, id uint) (*model.Package, error)
	Reject(ctx context.Context, id uint, reason string) (*model.Package, error)
	MarkChanged(ctx context.Context, id uint) (*model.Package, error)
}

type packageService struct {
	db        *gorm.DB
	locker    *lock.PackageLocker
	engine    *matching.Engine
	publisher EventPublisher
}

// NewPackageService 创建一个新的 PackageService 实例，publisher 可以为 nil。
func NewPackageService(db *gorm.DB, locker *lock.PackageLocker, engine *matching.Engine, publisher EventPublisher) PackageService {
	return &packageService{
		db:        db,
		locker:    locker,
		engine:    engine,
		publisher: publisher,
	}
}

func (s *packageService) CreatePackage(ctx context.Context, owner *model.User, req CreatePackageRequest) (*model.Package, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	pkg := &model.Package{
		Name:          name,
		Description:   req.Description,
		Origin:        model.PackageOriginTBKB,
		BioprojectID:  req.BioprojectID,
		NCBITaxonID:   req.NCBITaxonID,
		State:         model.PackageStateDraft,
		MatchingState: model.MatchingStateNeverMatched,
	}
	if owner != nil {
		pkg.OwnerID = &owner.ID
	}
	if err := repository.NewPackageRepository(s.db.WithContext(ctx)).Create(pkg); err != nil {
		log.Errorf("[CreatePackage] 创建包失败, error: %v", err)
		return nil, err
	}
	log.Infof("[CreatePackage] 包已创建: id=%d, name=%s", pkg.ID, pkg.Name)
	return pkg, nil
}

func (s *packageService) GetPackage(ctx context.Context, user *model.User, id uint) (*PackageDetail, error) {
	db := s.db.WithContext(ctx)
	pkg, err := findPackage(db, id)
	if err != nil {
		return nil, err
	}
	if !canView(user, pkg) {
		return nil, ErrForbidden
	}
	detail := &PackageDetail{Package: pkg}
	if detail.Stats, err = repository.NewStatsRepository(db).FindByPackage(id); err != nil {
		return nil, err
	}
	if detail.Aliases, err = repository.NewSampleAliasRepository(db).FindByPackage(id); err != nil {
		return nil, err
	}
	if detail.SequencingFiles, err = repository.NewSequencingRepository(db).FindLinksByPackage(id); err != nil {
		return nil, err
	}
	return detail, nil
}

// RunMatch 在包锁内执行一次匹配并重新计算统计数据，包被占用时立即返回 ErrLockContention。
func (s *packageService) RunMatch(ctx context.Context, user *model.User, id uint) (*matching.Report, error) {
	pkg, err := findPackage(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !canEdit(user, pkg) {
		return nil, ErrForbidden
	}

	log.Infof("[RunMatch] 开始匹配包 %d", id)
	var report *matching.Report
	err = s.locker.WithLock(ctx, id, func(tx *gorm.DB, locked *model.Package) error {
		r, err := s.engine.Match(tx, locked)
		if err != nil {
			return err
		}
		if _, err := repository.NewStatsRepository(tx).Recompute(locked.ID); err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockContention) || errors.Is(err, ErrNoData) {
			log.Warnf("[RunMatch] 包 %d 未执行匹配: %v", id, err)
		} else {
			log.Errorf("[RunMatch] 包 %d 匹配失败, error: %v", id, err)
		}
		return nil, err
	}
	return report, nil
}

func (s *packageService) Submit(ctx context.Context, user *model.User, id uint) (*model.Package, error) {
	return s.transition(ctx, id, TransitionSubmit, func(pkg *model.Package) error {
		if !canEdit(user, pkg) {
			return ErrForbidden
		}
		return nil
	}, nil)
}

// Approve 接受一个待审核的包：已关联样本的测试转为正式数据，
// 同一所有者其它可编辑的包执行 mark_changed（重新统计、MATCHED 降级为 CHANGED、REJECTED 退回 DRAFT）。
func (s *packageService) Approve(ctx context.Context, id uint) (*model.Package, error) {
	return s.transition(ctx, id, TransitionApprove, nil, func(tx *gorm.DB, pkg *model.Package) ([]events.PackageEvent, error) {
		unstaged, err := repository.NewSusceptibilityRepository(tx).UnstageResolved(pkg.ID)
		if err != nil {
			return nil, err
		}
		log.Infof("[Approve] 包 %d 中 %d 条药敏测试已转为正式数据", pkg.ID, unstaged)
		if pkg.OwnerID == nil {
			return nil, nil
		}
		others, err := repository.NewPackageRepository(tx).FindEditableByOwner(*pkg.OwnerID, pkg.ID)
		if err != nil {
			return nil, err
		}
		var evts []events.PackageEvent
		now := time.Now()
		for i := range others {
			event, err := markChanged(tx, &others[i], now)
			if err != nil {
				return nil, fmt.Errorf("mark package %d changed: %w", others[i].ID, err)
			}
			if event != nil {
				evts = append(evts, *event)
			}
			log.Infof("[Approve] 包 %d 的匹配结果可能已过期: %s/%s", others[i].ID, others[i].State, others[i].MatchingState)
		}
		return evts, nil
	})
}

func (s *packageService) Reject(ctx context.Context, id uint, reason string) (*model.Package, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, id, TransitionReject, func(pkg *model.Package) error {
		pkg.RejectionReason = reason
		return nil
	}, nil)
}

// MarkChanged 在包的内容发生变化后调用。
func (s *packageService) MarkChanged(ctx context.Context, id uint) (*model.Package, error) {
	var (
		pkg   *model.Package
		event *events.PackageEvent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if pkg, err = findPackage(tx, id); err != nil {
			return err
		}
		event, err = markChanged(tx, pkg, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if event != nil {
		publish(ctx, s.publisher, *event)
	}
	return pkg, nil
}

// transition 在事务中执行一次生命周期操作。prepare 在状态检查之前运行，
// effects 在状态写入之后、提交之前运行，返回的附带事件与本次变更的事件一起在事务提交后发布。
func (s *packageService) transition(
	ctx context.Context,
	id uint,
	t Transition,
	prepare func(pkg *model.Package) error,
	effects func(tx *gorm.DB, pkg *model.Package) ([]events.PackageEvent, error),
) (*model.Package, error) {
	var (
		pkg      *model.Package
		from     model.PackageState
		sideEvts []events.PackageEvent
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if pkg, err = findPackage(tx, id); err != nil {
			return err
		}
		if prepare != nil {
			if err := prepare(pkg); err != nil {
				return err
			}
		}
		expected, expectedMatching := pkg.State, pkg.MatchingState
		if from, err = planTransition(t, pkg, time.Now()); err != nil {
			return err
		}
		ok, err := repository.NewPackageRepository(tx).SwapState(pkg, expected, expectedMatching)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentModification
		}
		if effects != nil {
			sideEvts, err = effects(tx, pkg)
			return err
		}
		return nil
	})
	if err != nil {
		log.Warnf("[%s] 包 %d 状态变更失败: %v", t, id, err)
		return nil, err
	}

	log.Infof("[%s] 包 %d 状态变更: %s -> %s", t, id, from, pkg.State)
	event := events.New(eventType(t), pkg.ID, pkg.Name, pkg.OwnerID, string(from), string(pkg.State))
	if t == TransitionReject {
		event.Reason = pkg.RejectionReason
	}
	publish(ctx, s.publisher, append([]events.PackageEvent{event}, sideEvts...)...)
	return pkg, nil
}

// markChanged 重新计算统计数据并在需要时降级匹配状态、把被拒绝的包退回草稿。
// 只有生命周期状态变化时才返回事件。
func markChanged(tx *gorm.DB, pkg *model.Package, now time.Time) (*events.PackageEvent, error) {
	if _, err := repository.NewStatsRepository(tx).Recompute(pkg.ID); err != nil {
		return nil, err
	}
	expected, expectedMatching := pkg.State, pkg.MatchingState
	from, err := planTransition(TransitionMarkChanged, pkg, now)
	if err != nil {
		return nil, err
	}
	if pkg.State == expected && pkg.MatchingState == expectedMatching {
		return nil, nil
	}
	ok, err := repository.NewPackageRepository(tx).SwapState(pkg, expected, expectedMatching)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConcurrentModification
	}
	if from == pkg.State {
		return nil, nil
	}
	event := events.New(events.TypeChanged, pkg.ID, pkg.Name, pkg.OwnerID, string(from), string(pkg.State))
	return &event, nil
}

func eventType(t Transition) string {
	switch t {
	case TransitionSubmit:
		return events.TypeSubmitted
	case TransitionApprove:
		return events.TypeAccepted
	case TransitionReject:
		return events.TypeRejected
	default:
		return events.TypeChanged
	}
}

// publish 发送事件，失败只记录日志，不影响已经提交的状态变更。
func publish(ctx context.Context, publisher EventPublisher, evts ...events.PackageEvent) {
	if publisher == nil {
		return
	}
	for _, e := range evts {
		if err := publisher.Publish(ctx, e); err != nil {
			log.Errorf("发布事件失败: type=%s, package=%d, error: %v", e.Type, e.PackageID, err)
		}
	}
}

func findPackage(db *gorm.DB, id uint) (*model.Package, error) {
	pkg, err := repository.NewPackageRepository(db).FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPackageNotFound
	}
	return pkg, err
}

func canView(user *model.User, pkg *model.Package) bool {
	return user == nil || user.IsAdmin() || pkg.IsOwnedBy(user.ID)
}

func canEdit(user *model.User, pkg *model.Package) bool {
	return user == nil || pkg.IsOwnedBy(user.ID)
}
