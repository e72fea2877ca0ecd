package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/lock"
	"tbkb-submission-go/internal/matching"
	"tbkb-submission-go/internal/middleware"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/repository"
	"tbkb-submission-go/internal/service"
	"tbkb-submission-go/internal/testutil"
	"tbkb-submission-go/pkg/token"
)

type noopStore struct{}

func (noopStore) Stat(context.Context, string) (int64, bool, error) { return 0, false, nil }

func (noopStore) PresignedGetURL(_ context.Context, objectName, _ string, _ time.Duration) (string, error) {
	return "https://storage.example.org/" + objectName, nil
}

type apiFixture struct {
	db     *gorm.DB
	router *gin.Engine
	jwt    *token.JWTManager
	locker *lock.PackageLocker
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	f := &apiFixture{
		db:     db,
		router: gin.New(),
		jwt:    token.NewJWTManager("test-secret", 1),
		locker: lock.NewPackageLocker(db, nil, time.Minute),
	}
	engine := matching.NewEngine(matching.NewSampleRegistry(1773))
	packages := service.NewPackageService(db, f.locker, engine, nil)
	intake := service.NewIntakeService(db, noopStore{}, nil, time.Minute)
	auth := middleware.AuthMiddleware(f.jwt, repository.NewUserRepository(db))
	RegisterRoutes(f.router, auth, NewPackageHandler(packages, intake), NewReviewHandler(packages))
	return f
}

func (f *apiFixture) do(t *testing.T, user *model.User, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		tok, err := f.jwt.GenerateToken(user.ID, user.Username, user.Role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestRequiresAuthentication(t *testing.T) {
	f := newAPI(t)
	w, _ := f.do(t, nil, http.MethodPost, "/api/v1/packages", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ghost := &model.User{ID: 999, Username: "ghost", Role: model.RoleUser}
	w, _ = f.do(t, ghost, http.MethodPost, "/api/v1/packages", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPackageWorkflow(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	admin := testutil.SeedUser(t, f.db, "root", model.RoleAdmin)

	w, env := f.do(t, owner, http.MethodPost, "/api/v1/packages", map[string]string{"name": "batch 1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pkg model.Package
	require.NoError(t, json.Unmarshal(env.Data, &pkg))

	base := "/api/v1/packages/" + itoa(pkg.ID)

	// 空包不能匹配
	w, _ = f.do(t, owner, http.MethodPost, base+"/match", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, owner, http.MethodPost, base+"/aliases", map[string]string{
		"name": "SAMPLE1", "country": "ABW", "samplingDateFrom": "2021-01-01", "samplingDateTo": "2021-12-31",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	testutil.SeedUpload(t, f.db, &pkg, "SAMPLE1_R1.fastq.gz")
	testutil.SeedUpload(t, f.db, &pkg, "SAMPLE1_R2.fastq.gz")

	// 未匹配时不能提交
	w, env = f.do(t, owner, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var terr service.TransitionError
	require.NoError(t, json.Unmarshal(env.Data, &terr))
	assert.Equal(t, service.CodeNotMatched, terr.Code)

	w, env = f.do(t, owner, http.MethodPost, base+"/match", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report matching.Report
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report.Resolved, 1)
	assert.Equal(t, model.MatchSourceFastqUploadedNewSample, report.Resolved[0].MatchSource)

	w, _ = f.do(t, owner, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 普通用户不能审核
	w, _ = f.do(t, owner, http.MethodPost, "/api/v1/admin/packages/"+itoa(pkg.ID)+"/approve", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, admin, http.MethodPost, "/api/v1/admin/packages/"+itoa(pkg.ID)+"/reject", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, admin, http.MethodPost, "/api/v1/admin/packages/"+itoa(pkg.ID)+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.PackageStateAccepted, testutil.Reload[model.Package](t, f.db, pkg.ID).State)

	// 已接受的包不能再修改
	w, _ = f.do(t, owner, http.MethodPost, base+"/aliases", map[string]string{"name": "SAMPLE2"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAddDuplicateAliasConflict(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	path := "/api/v1/packages/" + itoa(pkg.ID) + "/aliases"

	w, _ := f.do(t, owner, http.MethodPost, path, map[string]string{"name": "Sample1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = f.do(t, owner, http.MethodPost, path, map[string]string{"name": "SAMPLE1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMarkChangedHook(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	admin := testutil.SeedUser(t, f.db, "root", model.RoleAdmin)
	pkg := testutil.SeedPackage(t, f.db, owner, func(p *model.Package) {
		p.State = model.PackageStateRejected
		p.MatchingState = model.MatchingStateMatched
	})
	testutil.SeedAlias(t, f.db, pkg, "SAMPLE1", "")
	path := "/api/v1/admin/packages/" + itoa(pkg.ID) + "/mark-changed"

	w, _ := f.do(t, owner, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, admin, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reloaded := testutil.Reload[model.Package](t, f.db, pkg.ID)
	assert.Equal(t, model.PackageStateDraft, reloaded.State)
	assert.Equal(t, model.MatchingStateChanged, reloaded.MatchingState)

	var stats model.PackageStats
	require.NoError(t, f.db.First(&stats, "package_id = ?", pkg.ID).Error)
	assert.EqualValues(t, 1, stats.CntSampleAliases)

	w, _ = f.do(t, admin, http.MethodPost, "/api/v1/admin/packages/99999/mark-changed", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunMatchContention(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	testutil.SeedAlias(t, f.db, pkg, "S1", "")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.locker.WithLock(context.Background(), pkg.ID, func(*gorm.DB, *model.Package) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	w, env := f.do(t, owner, http.MethodPost, "/api/v1/packages/"+itoa(pkg.ID)+"/match", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, service.ErrLockContention.Error(), env.Message)

	close(release)
	require.NoError(t, <-done)
}

func TestPackageAccessErrors(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	other := testutil.SeedUser(t, f.db, "bob", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)

	w, _ := f.do(t, other, http.MethodGet, "/api/v1/packages/"+itoa(pkg.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = f.do(t, owner, http.MethodGet, "/api/v1/packages/"+itoa(pkg.ID+100), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, owner, http.MethodGet, "/api/v1/packages/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, owner, http.MethodPatch, "/api/v1/packages/"+itoa(pkg.ID)+"/aliases/77", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadSequencingFile(t *testing.T) {
	f := newAPI(t)
	owner := testutil.SeedUser(t, f.db, "alice", model.RoleUser)
	pkg := testutil.SeedPackage(t, f.db, owner)
	link := testutil.SeedUpload(t, f.db, pkg, "S1_R1.fastq.gz")

	w, env := f.do(t, owner, http.MethodGet, "/api/v1/packages/"+itoa(pkg.ID)+"/sequencing-files/"+itoa(link.ID)+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Contains(t, data.URL, "https://storage.example.org/fastq/")

	w, _ = f.do(t, owner, http.MethodPost, "/api/v1/packages/"+itoa(pkg.ID)+"/sequencing-files", map[string]string{
		"objectName": "uploads/missing.fastq.gz", "filename": "S2_R1.fastq.gz", "hash": "abc",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
