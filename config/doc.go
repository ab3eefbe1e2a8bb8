// Package config 提供 herd 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → HERD_* 环境变量 的顺序合并，
// 由调用方显式传递给各组件的构造函数。
package config
