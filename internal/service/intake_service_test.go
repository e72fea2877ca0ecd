package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/testutil"
	"tbkb-submission-go/pkg/events"
)

func TestAddAliasMarksPackageChanged(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })

	alias, err := f.intake.AddAlias(context.Background(), owner, pkg.ID, AddAliasRequest{
		Name:             "SAMPLE1",
		FastqPrefix:      testutil.Ptr("s1"),
		Country:          testutil.Ptr("abw"),
		SamplingDateFrom: "2021-01-01",
		SamplingDateTo:   "2021-12-31",
	})
	require.NoError(t, err)
	assert.Equal(t, "ABW", *alias.Country)
	assert.Equal(t, "s1", *alias.FastqPrefix)
	lower, upper := alias.SamplingDate.Bounds()
	assert.Equal(t, "2021-01-01", lower)
	assert.Equal(t, "2021-12-31", upper)

	got := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.MatchingStateChanged, got.MatchingState)

	var stats model.PackageStats
	require.NoError(t, f.db.Where("package_id = ?", pkg.ID).First(&stats).Error)
	assert.EqualValues(t, 1, stats.CntSampleAliases)
	assert.Empty(t, f.publisher.types())
}

func TestAddAliasValidation(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)

	tests := []struct {
		name string
		req  AddAliasRequest
	}{
		{"empty name", AddAliasRequest{Name: "  "}},
		{"bad country", AddAliasRequest{Name: "S1", Country: testutil.Ptr("Aruba")}},
		{"reversed dates", AddAliasRequest{Name: "S1", SamplingDateFrom: "2021-12-31", SamplingDateTo: "2021-01-01"}},
		{"bad date", AddAliasRequest{Name: "S1", SamplingDateFrom: "31/12/2021"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.intake.AddAlias(context.Background(), owner, pkg.ID, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestEditMovesRejectedPackageToDraft(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStateRejected
		p.MatchingState = model.MatchingStateMatched
		p.RejectionReason = "bad data"
	})

	_, err := f.intake.AddAlias(context.Background(), owner, pkg.ID, AddAliasRequest{Name: "S1"})
	require.NoError(t, err)

	got := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.PackageStateDraft, got.State)
	assert.Equal(t, model.MatchingStateChanged, got.MatchingState)
	assert.Equal(t, "bad data", got.RejectionReason)
	assert.Equal(t, []string{events.TypeChanged}, f.publisher.types())
}

func TestEditRequiresEditableOwnedPackage(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	other := testutil.SeedUser(t, f.db, "bob", model.RoleUser)
	pending := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.State = model.PackageStatePending })
	draft := testutil.SeedPackage(t, f.db, owner)

	_, err := f.intake.AddAlias(context.Background(), owner, pending.ID, AddAliasRequest{Name: "S1"})
	assert.ErrorIs(t, err, ErrPackageNotEditable)
	_, err = f.intake.AddAlias(context.Background(), other, draft.ID, AddAliasRequest{Name: "S1"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.intake.AddAlias(context.Background(), owner, draft.ID+100, AddAliasRequest{Name: "S1"})
	assert.ErrorIs(t, err, ErrPackageNotFound)

	var cnt int64
	require.NoError(t, f.db.Model(&model.SampleAlias{}).Count(&cnt).Error)
	assert.Zero(t, cnt)
}

func TestRenameAliasClearsVerdicts(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	alias := testutil.SeedAlias(t, f.db, pkg, "old", "", func(a *model.SampleAlias) {
		a.Verdicts.Append("No FASTQ files with such prefix provided", model.VerdictLevelWarning)
	})

	renamed, err := f.intake.RenameAlias(context.Background(), owner, pkg.ID, alias.ID, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", renamed.Name)

	got := testutil.Reload[model.SampleAlias](t, f.db, alias.ID)
	assert.Equal(t, "new", got.Name)
	assert.True(t, got.Verdicts.Empty())

	_, err = f.intake.RenameAlias(context.Background(), owner, pkg.ID, alias.ID+100, "x")
	assert.ErrorIs(t, err, ErrAliasNotFound)
}

func TestAddAliasRejectsCaseVariantDuplicates(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	other := testutil.SeedPackage(t, f.db, owner)
	ctx := context.Background()

	_, err := f.intake.AddAlias(ctx, owner, pkg.ID, AddAliasRequest{Name: "Sample1", FastqPrefix: testutil.Ptr("Run7")})
	require.NoError(t, err)

	_, err = f.intake.AddAlias(ctx, owner, pkg.ID, AddAliasRequest{Name: "SAMPLE1"})
	assert.ErrorIs(t, err, ErrDuplicateAlias)
	_, err = f.intake.AddAlias(ctx, owner, pkg.ID, AddAliasRequest{Name: "Sample2", FastqPrefix: testutil.Ptr("run7")})
	assert.ErrorIs(t, err, ErrDuplicateAlias)

	var count int64
	require.NoError(t, f.db.Model(&model.SampleAlias{}).Where("package_id = ?", pkg.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// 唯一性只在包内校验
	_, err = f.intake.AddAlias(ctx, owner, other.ID, AddAliasRequest{Name: "sample1", FastqPrefix: testutil.Ptr("RUN7")})
	assert.NoError(t, err)
}

func TestRenameAliasRejectsCaseVariantDuplicates(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	first := testutil.SeedAlias(t, f.db, pkg, "Sample1", "")
	second := testutil.SeedAlias(t, f.db, pkg, "Sample2", "")
	ctx := context.Background()

	_, err := f.intake.RenameAlias(ctx, owner, pkg.ID, second.ID, "sample1")
	assert.ErrorIs(t, err, ErrDuplicateAlias)
	assert.Equal(t, "Sample2", testutil.Reload[model.SampleAlias](t, f.db, second.ID).Name)

	// 只改变大小写的重命名不与自身冲突
	renamed, err := f.intake.RenameAlias(ctx, owner, pkg.ID, first.ID, "SAMPLE1")
	require.NoError(t, err)
	assert.Equal(t, "SAMPLE1", renamed.Name)
}

func TestAddTestsInheritAliasSample(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	sample := testutil.SeedSample(t, f.db)
	alias := testutil.SeedAlias(t, f.db, pkg, "S1", "", func(a *model.SampleAlias) { a.SampleID = &sample.ID })

	mic, err := f.intake.AddMICTest(context.Background(), owner, pkg.ID, alias.ID, AddMICTestRequest{
		DrugID: 3, Plate: "UKMYC6", RangeLower: testutil.Ptr(0.25), RangeUpper: testutil.Ptr(0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, &sample.ID, mic.SampleID)
	assert.True(t, mic.Staging)

	pds, err := f.intake.AddPDSTest(context.Background(), owner, pkg.ID, alias.ID, AddPDSTestRequest{
		DrugID: testutil.Ptr(uint(4)), Concentration: testutil.Ptr(1.0), TestResult: testutil.Ptr("r"),
	})
	require.NoError(t, err)
	assert.Equal(t, "R", *pds.TestResult)
	assert.True(t, testutil.Reload[model.PDSTest](t, f.db, pds.ID).Staging)

	_, err = f.intake.AddPDSTest(context.Background(), owner, pkg.ID, alias.ID, AddPDSTestRequest{TestResult: testutil.Ptr("X")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.intake.AddMICTest(context.Background(), owner, pkg.ID, alias.ID+100, AddMICTestRequest{DrugID: 3, Plate: "UKMYC6"})
	assert.ErrorIs(t, err, ErrAliasNotFound)

	var stats model.PackageStats
	require.NoError(t, f.db.Where("package_id = ?", pkg.ID).First(&stats).Error)
	assert.EqualValues(t, 1, stats.CntMICTests)
	assert.EqualValues(t, 1, stats.CntPDSTests)
	assert.Equal(t, []uint{3}, []uint(stats.ListMICDrugs))
}

func TestAttachSequencingFile(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	first := testutil.SeedPackage(t, f.db, owner)
	second := testutil.SeedPackage(t, f.db, owner)
	f.store.objects["uploads/abc.fastq.gz"] = 1024

	req := AttachFileRequest{ObjectName: "uploads/abc.fastq.gz", Filename: "S1_R1.fastq.gz", Hash: "ABCDEF"}
	link, err := f.intake.AttachSequencingFile(context.Background(), owner, first.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "S1_R1.fastq.gz", link.Filename)

	file := testutil.Reload[model.SequencingFile](t, f.db, link.SequencingFileID)
	assert.Equal(t, "uploads/abc.fastq.gz", *file.FilePath)
	assert.EqualValues(t, 1024, *file.FileSize)
	assert.Equal(t, model.DataLocationTBKB, file.DataLocation)
	hash := testutil.Reload[model.SequencingFileHash](t, f.db, link.SequencingFileHashID)
	assert.Equal(t, DefaultHashAlgorithm, hash.Algorithm)
	assert.Equal(t, "abcdef", hash.Value)

	// 同一个文件再次关联到同一个包
	_, err = f.intake.AttachSequencingFile(context.Background(), owner, first.ID, req)
	assert.ErrorIs(t, err, ErrFileAlreadyAttached)

	// 另一个包上传相同内容时复用已登记的文件，不需要对象存在
	delete(f.store.objects, "uploads/abc.fastq.gz")
	reused, err := f.intake.AttachSequencingFile(context.Background(), owner, second.ID, AttachFileRequest{
		ObjectName: "uploads/other.fastq.gz", Filename: "X_R1.fastq.gz", Hash: "abcdef",
	})
	require.NoError(t, err)
	assert.Equal(t, link.SequencingFileID, reused.SequencingFileID)

	_, err = f.intake.AttachSequencingFile(context.Background(), owner, second.ID, AttachFileRequest{
		ObjectName: "uploads/missing.fastq.gz", Filename: "Y_R1.fastq.gz", Hash: "123456",
	})
	assert.ErrorIs(t, err, ErrObjectMissing)

	var stats model.PackageStats
	require.NoError(t, f.db.Where("package_id = ?", second.ID).First(&stats).Error)
	assert.EqualValues(t, 1, stats.CntSequencingData)
}

func TestDetachSequencingFile(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) { p.MatchingState = model.MatchingStateMatched })
	link := testutil.SeedUpload(t, f.db, pkg, "S1_R1.fastq.gz")

	require.NoError(t, f.intake.DetachSequencingFile(context.Background(), owner, pkg.ID, link.ID))

	var cnt int64
	require.NoError(t, f.db.Model(&model.SequencingFileLink{}).Where("package_id = ?", pkg.ID).Count(&cnt).Error)
	assert.Zero(t, cnt)
	// 文件本身保留，可能被其它包引用
	assert.NotNil(t, testutil.Reload[model.SequencingFile](t, f.db, link.SequencingFileID))
	assert.Equal(t, model.MatchingStateChanged, testutil.Reload[model.Package](t, f.db, pkg.ID).MatchingState)

	err := f.intake.DetachSequencingFile(context.Background(), owner, pkg.ID, link.ID)
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	other := testutil.SeedUser(t, f.db, "bob", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	link := testutil.SeedUpload(t, f.db, pkg, "S1_R1.fastq.gz")
	file := testutil.Reload[model.SequencingFile](t, f.db, link.SequencingFileID)

	url, err := f.intake.DownloadURL(context.Background(), owner, pkg.ID, link.ID)
	require.NoError(t, err)
	assert.Contains(t, url, *file.FilePath)
	assert.Contains(t, url, "S1_R1.fastq.gz")

	_, err = f.intake.DownloadURL(context.Background(), other, pkg.ID, link.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	ncbiFile, ncbiHash := testutil.SeedFile(t, f.db, "SRR000001", model.DataLocationNCBI, nil)
	ncbiLink := testutil.SeedLink(t, f.db, pkg, ncbiFile, ncbiHash, "SRR000001_1.fastq.gz")
	_, err = f.intake.DownloadURL(context.Background(), owner, pkg.ID, ncbiLink.ID)
	assert.ErrorIs(t, err, ErrFileNotStored)
}
