// Package telemetry 初始化 OpenTelemetry SDK：worker 的作业 span 与
// otel 计数器经 OTLP/gRPC 导出。禁用时保留 noop 全局实现，不连接外部服务。
package telemetry
