/*
Package testutil 提供 herd 测试的共享工具和辅助函数。

# 概述

testutil 包为各包测试提供统一的存储夹具与异步断言，避免各包
重复搭建 miniredis、内存 sqlite 等基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 存储夹具: NewRedis（miniredis + go-redis 客户端）、
    NewDurableStore（glebarez sqlite 内存库，已迁移）
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockQueue，带错误注入的执行队列
  - testutil/fixtures: 预置工作流定义（Diamond、Linear、Parent）与 Registry
*/
package testutil
