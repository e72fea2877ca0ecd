package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tbkb-submission-go/internal/service"
	"tbkb-submission-go/pkg/log"
)

// ReviewHandler 负责处理管理员的审核请求。
type ReviewHandler struct {
	packageService service.PackageService
}

// NewReviewHandler 创建一个新的 ReviewHandler 实例。
func NewReviewHandler(packageService service.PackageService) *ReviewHandler {
	return &ReviewHandler{packageService: packageService}
}

// RejectRequest 是拒绝一个包的请求体。
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Approve 接受一个待审核的包。
func (h *ReviewHandler) Approve(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	pkg, err := h.packageService.Approve(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Approve", err)
		return
	}
	log.Infof("Approve: 包 %d 已由 %s 审核通过", id, currentUser(c).Username)
	ok(c, "审核通过", pkg)
}

// Reject 拒绝一个待审核的包，reason 会转达给所有者。
func (h *ReviewHandler) Reject(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "拒绝时必须填写原因", nil)
		return
	}
	pkg, err := h.packageService.Reject(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, "Reject", err)
		return
	}
	log.Infof("Reject: 包 %d 已由 %s 拒绝", id, currentUser(c).Username)
	ok(c, "已拒绝", pkg)
}

// MarkChanged 在外部导入程序直接写入包内容之后调用，重新计算统计并使上次匹配结果失效。
func (h *ReviewHandler) MarkChanged(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	pkg, err := h.packageService.MarkChanged(c.Request.Context(), id)
	if err != nil {
		respondError(c, "MarkChanged", err)
		return
	}
	ok(c, "已标记为变更", pkg)
}
