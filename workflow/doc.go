/*
Package workflow 定义 herd 的工作流图模型。

# 概述

一个 Workflow 是若干 Job 组成的有向无环图。定义通过 Registry 按名称注册，
ConfigureFunc 接收 Builder，调用 Run / Workflow 声明节点，用 After / Before
声明依赖；Build 一次性把依赖请求解析为对称的 Incoming / Outgoing 边，并拒绝
未知依赖、重复节点和环。

# 核心类型

  - Job：图节点，(Type, ID) 唯一标识，名称形如 "Type|ID"
  - Workflow：节点集合 + 从持久化存储读回的生命周期字段
  - Builder：声明式构图 DSL（Run / Workflow / Edge / Build）
  - Registry：定义名 → ConfigureFunc 的注册表，替代运行时反射查找
  - Summary：写入临时存储的工作流快照

# 状态判定

Job 的完成状态同时取决于本地时间戳与持久化存储中的 ProxyStatus：
只有 FinishedAt 已设置且 ProxyStatus 为 completed 时才算 Finished。
跨进程的就绪判断（ParentsSucceeded / ReadyToStart）在 client 包中完成，
因为它必须读取其他 worker 写入的最新状态。
*/
package workflow
