// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"

	"tbkb-submission-go/internal/lock"
	"tbkb-submission-go/internal/matching"
)

var (
	ErrPackageNotFound    = lock.ErrPackageNotFound
	ErrPackageNotEditable = lock.ErrPackageNotEditable
	ErrLockContention     = lock.ErrLockContention
	ErrNoData             = matching.ErrNoData

	// ErrForbidden 表示当前用户无权操作该包。
	ErrForbidden = errors.New("no permission for this package")
	// ErrConcurrentModification 表示包的状态在读取之后被其它请求修改。
	ErrConcurrentModification = errors.New("package state was modified concurrently")
	ErrAliasNotFound          = errors.New("sample alias not found")
	// ErrDuplicateAlias 表示包内已有名称或 FASTQ 前缀相同（不区分大小写）的别名。
	ErrDuplicateAlias = errors.New("sample alias name or fastq prefix already used in package")
	ErrLinkNotFound           = errors.New("sequencing file not found in package")
	ErrFileAlreadyAttached    = errors.New("sequencing file is already attached to package")
	ErrObjectMissing          = errors.New("uploaded object does not exist in storage")
	ErrFileNotStored          = errors.New("sequencing file has no stored object")
	// ErrInvalidInput 表示请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
)
