package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/testutil"
	"tbkb-submission-go/pkg/events"
)

// seedMatchable 创建一个有别名和两个上传文件的包，匹配后会新建一个样本。
func seedMatchable(t *testing.T, f *fixture, owner *model.User) *model.Package {
	t.Helper()
	pkg := testutil.SeedPackage(t, f.db, owner)
	testutil.SeedAlias(t, f.db, pkg, "SAMPLE1", "")
	testutil.SeedUpload(t, f.db, pkg, "SAMPLE1_R1.fastq.gz")
	testutil.SeedUpload(t, f.db, pkg, "SAMPLE1_R2.fastq.gz")
	return pkg
}

func TestCreatePackage(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)

	pkg, err := f.packages.CreatePackage(context.Background(), owner, CreatePackageRequest{Name: "  Lab batch 7 "})
	require.NoError(t, err)
	assert.Equal(t, "Lab batch 7", pkg.Name)
	assert.Equal(t, model.PackageStateDraft, pkg.State)
	assert.Equal(t, model.MatchingStateNeverMatched, pkg.MatchingState)
	assert.True(t, pkg.IsOwnedBy(owner.ID))

	detail, err := f.packages.GetPackage(context.Background(), owner, pkg.ID)
	require.NoError(t, err)
	assert.Zero(t, detail.Stats.CntSampleAliases)
	assert.Empty(t, detail.Aliases)

	_, err = f.packages.CreatePackage(context.Background(), owner, CreatePackageRequest{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetPackagePermissions(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	other := testutil.SeedUser(t, f.db, "bob", model.RoleUser)
	admin := testutil.SeedUser(t, f.db, "root", model.RoleAdmin)
	pkg := testutil.SeedPackage(t, f.db, owner)

	_, err := f.packages.GetPackage(context.Background(), other, pkg.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.packages.GetPackage(context.Background(), admin, pkg.ID)
	assert.NoError(t, err)
	_, err = f.packages.GetPackage(context.Background(), owner, pkg.ID+100)
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestRunMatchRecomputesStats(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := seedMatchable(t, f, owner)

	report, err := f.packages.RunMatch(context.Background(), owner, pkg.ID)
	require.NoError(t, err)
	require.Len(t, report.Resolved, 1)
	assert.Equal(t, model.MatchSourceFastqUploadedNewSample, report.Resolved[0].MatchSource)

	got := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.MatchingStateMatched, got.MatchingState)

	var stats model.PackageStats
	require.NoError(t, f.db.Where("package_id = ?", pkg.ID).First(&stats).Error)
	assert.EqualValues(t, 1, stats.CntSampleAliases)
	assert.EqualValues(t, 1, stats.CntSamplesMatched)
	assert.EqualValues(t, 1, stats.CntSamplesCreated)
	assert.EqualValues(t, 2, stats.CntSequencingData)
}

func TestRunMatchMutualExclusion(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := seedMatchable(t, f, owner)

	held := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- f.locker.WithLock(context.Background(), pkg.ID, func(tx *gorm.DB, _ *model.Package) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	const n = 5
	for i := 0; i < n; i++ {
		_, err := f.packages.RunMatch(context.Background(), owner, pkg.ID)
		assert.ErrorIs(t, err, ErrLockContention)
	}
	close(release)
	require.NoError(t, <-holderDone)

	_, err := f.packages.RunMatch(context.Background(), owner, pkg.ID)
	assert.NoError(t, err)
}

func TestRunMatchNoData(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)

	_, err := f.packages.RunMatch(context.Background(), owner, pkg.ID)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, model.MatchingStateNeverMatched, testutil.Reload[model.Package](t, f.db, pkg.ID).MatchingState)
}

func TestRunMatchPermissionsAndState(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	other := testutil.SeedUser(t, f.db, "bob", model.RoleUser)
	pkg := seedMatchable(t, f, owner)

	_, err := f.packages.RunMatch(context.Background(), other, pkg.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	pending := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.State = model.PackageStatePending })
	_, err = f.packages.RunMatch(context.Background(), owner, pending.ID)
	assert.ErrorIs(t, err, ErrPackageNotEditable)
}

func TestSubmitRequiresMatchedState(t *testing.T) {
	for _, state := range []model.MatchingState{model.MatchingStateNeverMatched, model.MatchingStateChanged} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
			pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.MatchingState = state })

			_, err := f.packages.Submit(context.Background(), owner, pkg.ID)
			var terr *TransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, CodeNotMatched, terr.Code)

			got := testutil.Reload[model.Package](t, f.db, pkg.ID)
			assert.Equal(t, model.PackageStateDraft, got.State)
			assert.Empty(t, f.publisher.types())
		})
	}
}

func TestSubmitAfterMatch(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := seedMatchable(t, f, owner)
	before := testutil.Reload[model.Package](t, f.db, pkg.ID).StateChangedOn

	_, err := f.packages.RunMatch(context.Background(), owner, pkg.ID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	got, err := f.packages.Submit(context.Background(), owner, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PackageStatePending, got.State)

	stored := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.PackageStatePending, stored.State)
	assert.True(t, stored.StateChangedOn.After(before))
	assert.Equal(t, []string{events.TypeSubmitted}, f.publisher.types())

	// 已提交的包不能再次提交
	_, err = f.packages.Submit(context.Background(), owner, pkg.ID)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeInvalidTransition, terr.Code)
}

func TestRejectRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStatePending
		p.MatchingState = model.MatchingStateMatched
	})

	rejected, err := f.packages.Reject(context.Background(), pkg.ID, "bad data")
	require.NoError(t, err)
	assert.Equal(t, model.PackageStateRejected, rejected.State)

	stored := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.PackageStateRejected, stored.State)
	assert.Equal(t, "bad data", stored.RejectionReason)

	changed, err := f.packages.MarkChanged(context.Background(), pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PackageStateDraft, changed.State)

	stored = testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.PackageStateDraft, stored.State)
	assert.Equal(t, model.MatchingStateChanged, stored.MatchingState)
	assert.Equal(t, "bad data", stored.RejectionReason)

	require.Equal(t, []string{events.TypeRejected, events.TypeChanged}, f.publisher.types())
	assert.Equal(t, "bad data", f.publisher.events[0].Reason)
	assert.Equal(t, string(model.PackageStateRejected), f.publisher.events[1].FromState)
	assert.Equal(t, string(model.PackageStateDraft), f.publisher.events[1].ToState)
}

func TestMarkChangedWithoutStateChangeEmitsNothing(t *testing.T) {
	f := newFixture(t)
	pkg := testutil.SeedPackage(t, f.db, nil, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })

	got, err := f.packages.MarkChanged(context.Background(), pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PackageStateDraft, got.State)
	assert.Equal(t, model.MatchingStateChanged, testutil.Reload[model.Package](t, f.db, pkg.ID).MatchingState)
	assert.Empty(t, f.publisher.types())
}

func TestApproveSideEffects(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	stranger := testutil.SeedUser(t, f.db, "bob", model.RoleUser)

	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStatePending
		p.MatchingState = model.MatchingStateMatched
	})
	sample := testutil.SeedSample(t, f.db)
	resolved := testutil.SeedAlias(t, f.db, pkg, "resolved", "", func(a *model.SampleAlias) { a.SampleID = &sample.ID })
	unresolved := testutil.SeedAlias(t, f.db, pkg, "unresolved", "")
	micResolved := &model.MICTest{PackageID: pkg.ID, SampleAliasID: resolved.ID, SampleID: &sample.ID, DrugID: 1, Plate: "UKMYC6", Staging: true}
	micUnresolved := &model.MICTest{PackageID: pkg.ID, SampleAliasID: unresolved.ID, DrugID: 1, Plate: "UKMYC6", Staging: true}
	pdsResolved := &model.PDSTest{PackageID: pkg.ID, SampleAliasID: resolved.ID, SampleID: &sample.ID, Staging: true}
	require.NoError(t, f.db.Create(micResolved).Error)
	require.NoError(t, f.db.Create(micUnresolved).Error)
	require.NoError(t, f.db.Create(pdsResolved).Error)

	siblingMatched := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })
	siblingRejected := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStateRejected
		p.MatchingState = model.MatchingStateMatched
	})
	siblingNever := testutil.SeedPackage(t, f.db, owner)
	testutil.SeedAlias(t, f.db, siblingRejected, "S1", "")
	testutil.SeedAlias(t, f.db, siblingRejected, "S2", "")
	siblingAccepted := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStateAccepted
		p.MatchingState = model.MatchingStateMatched
	})
	foreign := testutil.SeedPackage(t, f.db, stranger, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })

	got, err := f.packages.Approve(context.Background(), pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PackageStateAccepted, got.State)
	assert.Equal(t, model.PackageStateAccepted, testutil.Reload[model.Package](t, f.db, pkg.ID).State)

	assert.False(t, testutil.Reload[model.MICTest](t, f.db, micResolved.ID).Staging)
	assert.True(t, testutil.Reload[model.MICTest](t, f.db, micUnresolved.ID).Staging)
	assert.False(t, testutil.Reload[model.PDSTest](t, f.db, pdsResolved.ID).Staging)

	matched := testutil.Reload[model.Package](t, f.db, siblingMatched.ID)
	assert.Equal(t, model.MatchingStateChanged, matched.MatchingState)
	assert.Equal(t, model.PackageStateDraft, matched.State)
	rejected := testutil.Reload[model.Package](t, f.db, siblingRejected.ID)
	assert.Equal(t, model.MatchingStateChanged, rejected.MatchingState)
	assert.Equal(t, model.PackageStateDraft, rejected.State)
	var stats model.PackageStats
	require.NoError(t, f.db.First(&stats, "package_id = ?", siblingRejected.ID).Error)
	assert.EqualValues(t, 2, stats.CntSampleAliases)
	assert.Equal(t, model.MatchingStateNeverMatched, testutil.Reload[model.Package](t, f.db, siblingNever.ID).MatchingState)
	assert.Equal(t, model.MatchingStateMatched, testutil.Reload[model.Package](t, f.db, siblingAccepted.ID).MatchingState)
	assert.Equal(t, model.PackageStateAccepted, testutil.Reload[model.Package](t, f.db, siblingAccepted.ID).State)
	assert.Equal(t, model.MatchingStateMatched, testutil.Reload[model.Package](t, f.db, foreign.ID).MatchingState)

	// 只有状态发生变化的兄弟包产生事件
	assert.Equal(t, []string{events.TypeAccepted, events.TypeChanged}, f.publisher.types())
}

func TestApproveRequiresPending(t *testing.T) {
	f := newFixture(t)
	pkg := testutil.SeedPackage(t, f.db, nil, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })

	_, err := f.packages.Approve(context.Background(), pkg.ID)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeInvalidTransition, terr.Code)
	assert.Equal(t, model.PackageStateDraft, testutil.Reload[model.Package](t, f.db, pkg.ID).State)

	_, err = f.packages.Reject(context.Background(), pkg.ID, "nope")
	require.ErrorAs(t, err, &terr)
	assert.Empty(t, testutil.Reload[model.Package](t, f.db, pkg.ID).RejectionReason)
}
