// Package dsl 提供 YAML 声明式工作流定义，
// 支持变量插值、after/before 依赖与嵌套工作流节点，
// 解析结果作为 workflow.ConfigureFunc 注册到 Registry。
package dsl
