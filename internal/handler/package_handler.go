package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tbkb-submission-go/internal/service"
	"tbkb-submission-go/pkg/log"
)

// PackageHandler 负责处理包的创建、录入、匹配和提交请求。
type PackageHandler struct {
	packageService service.PackageService
	intakeService  service.IntakeService
}

// NewPackageHandler 创建一个新的 PackageHandler 实例。
func NewPackageHandler(packageService service.PackageService, intakeService service.IntakeService) *PackageHandler {
	return &PackageHandler{packageService: packageService, intakeService: intakeService}
}

// CreatePackage 新建一个草稿包。
func (h *PackageHandler) CreatePackage(c *gin.Context) {
	var req service.CreatePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreatePackage: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	pkg, err := h.packageService.CreatePackage(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, "CreatePackage", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "包创建成功", "data": pkg})
}

// GetPackage 返回包详情。
func (h *PackageHandler) GetPackage(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	detail, err := h.packageService.GetPackage(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, "GetPackage", err)
		return
	}
	ok(c, "获取包详情成功", detail)
}

// RunMatch 对包执行一次匹配，包正在被处理时返回 409。
func (h *PackageHandler) RunMatch(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	report, err := h.packageService.RunMatch(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, "RunMatch", err)
		return
	}
	ok(c, "匹配完成", report)
}

// Submit 把包提交审核。
func (h *PackageHandler) Submit(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	pkg, err := h.packageService.Submit(c.Request.Context(), currentUser(c), id)
	if err != nil {
		respondError(c, "Submit", err)
		return
	}
	ok(c, "提交成功", pkg)
}

// AddAlias 在包内登记一个样本别名。
func (h *PackageHandler) AddAlias(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req service.AddAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	alias, err := h.intakeService.AddAlias(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, "AddAlias", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "别名登记成功", "data": alias})
}

// RenameAliasRequest 是修改别名名称的请求体。
type RenameAliasRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameAlias 修改别名名称，别名的诊断信息会被清空。
func (h *PackageHandler) RenameAlias(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	aliasID, valid := idParam(c, "aliasId")
	if !valid {
		return
	}
	var req RenameAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	alias, err := h.intakeService.RenameAlias(c.Request.Context(), currentUser(c), id, aliasID, req.Name)
	if err != nil {
		respondError(c, "RenameAlias", err)
		return
	}
	ok(c, "别名修改成功", alias)
}

// AddMICTest 为别名登记一条 MIC 测试。
func (h *PackageHandler) AddMICTest(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	aliasID, valid := idParam(c, "aliasId")
	if !valid {
		return
	}
	var req service.AddMICTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	test, err := h.intakeService.AddMICTest(c.Request.Context(), currentUser(c), id, aliasID, req)
	if err != nil {
		respondError(c, "AddMICTest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "MIC 测试登记成功", "data": test})
}

// AddPDSTest 为别名登记一条 PDS 测试。
func (h *PackageHandler) AddPDSTest(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	aliasID, valid := idParam(c, "aliasId")
	if !valid {
		return
	}
	var req service.AddPDSTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	test, err := h.intakeService.AddPDSTest(c.Request.Context(), currentUser(c), id, aliasID, req)
	if err != nil {
		respondError(c, "AddPDSTest", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "PDS 测试登记成功", "data": test})
}

// AttachSequencingFile 把对象存储中已上传的文件关联到包。
func (h *PackageHandler) AttachSequencingFile(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req service.AttachFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	link, err := h.intakeService.AttachSequencingFile(c.Request.Context(), currentUser(c), id, req)
	if err != nil {
		respondError(c, "AttachSequencingFile", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "文件关联成功", "data": link})
}

// DetachSequencingFile 从包中移除一个文件关联。
func (h *PackageHandler) DetachSequencingFile(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	linkID, valid := idParam(c, "linkId")
	if !valid {
		return
	}
	if err := h.intakeService.DetachSequencingFile(c.Request.Context(), currentUser(c), id, linkID); err != nil {
		respondError(c, "DetachSequencingFile", err)
		return
	}
	ok(c, "文件已移除", nil)
}

// DownloadSequencingFile 返回文件的临时下载地址。
func (h *PackageHandler) DownloadSequencingFile(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	linkID, valid := idParam(c, "linkId")
	if !valid {
		return
	}
	url, err := h.intakeService.DownloadURL(c.Request.Context(), currentUser(c), id, linkID)
	if err != nil {
		respondError(c, "DownloadSequencingFile", err)
		return
	}
	ok(c, "获取下载地址成功", gin.H{"url": url})
}
