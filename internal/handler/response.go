// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"tbkb-submission-go/internal/model"
	"tbkb-submission-go/internal/service"
	"tbkb-submission-go/pkg/log"
)

// errorStatus 把业务错误映射为 HTTP 状态码。
var errorStatus = []struct {
	err    error
	status int
}{
	{service.ErrLockContention, http.StatusConflict},
	{service.ErrConcurrentModification, http.StatusConflict},
	{service.ErrPackageNotEditable, http.StatusConflict},
	{service.ErrFileAlreadyAttached, http.StatusConflict},
	{service.ErrDuplicateAlias, http.StatusConflict},
	{gorm.ErrDuplicatedKey, http.StatusConflict},
	{service.ErrNoData, http.StatusBadRequest},
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrObjectMissing, http.StatusBadRequest},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrPackageNotFound, http.StatusNotFound},
	{service.ErrAliasNotFound, http.StatusNotFound},
	{service.ErrLinkNotFound, http.StatusNotFound},
	{service.ErrFileNotStored, http.StatusNotFound},
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// respondError 输出业务错误，未知错误记录日志并返回 500。
func respondError(c *gin.Context, op string, err error) {
	var terr *service.TransitionError
	if errors.As(err, &terr) {
		fail(c, http.StatusConflict, terr.Message, terr)
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			fail(c, e.status, err.Error(), nil)
			return
		}
	}
	log.Error(op+": internal error", err)
	fail(c, http.StatusInternalServerError, "服务器内部错误", nil)
}

// currentUser 返回 AuthMiddleware 写入上下文的用户。
func currentUser(c *gin.Context) *model.User {
	v, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

// idParam 解析路径中的数字 ID，失败时直接输出 400。
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "无效的 "+name, nil)
		return 0, false
	}
	return uint(id), true
}
