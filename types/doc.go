/*
Package types 提供 herd 的全局共享错误体系。

types 是最底层的公共包，不依赖任何内部包。workflow、persistence、lock、
client、worker 等上层模块通过 ErrorCode 区分失败类型，调用方使用
IsCode / GetErrorCode 穿透 fmt.Errorf("%w") 包装进行判断。

# 错误码分组

  - 查找类：WORKFLOW_NOT_FOUND / JOB_NOT_FOUND / UNKNOWN_DEFINITION / UNKNOWN_HANDLER
  - 图构建类：DUPLICATE_JOB / INVALID_DEPENDENCY / CIRCULAR_DEPENDENCY / INVALID_JOB_NAME
  - 协调类：LOCK_ACQUISITION_TIMEOUT / CONCURRENT_MODIFICATION（均为 Retryable）
*/
package types
