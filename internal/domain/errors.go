package domain

import "errors"

// ErrNotFound 实体不存在（各仓库统一返回，供上层 errors.Is 判定）
var ErrNotFound = errors.New("entity not found")
