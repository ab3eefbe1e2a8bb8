// Package ctxkeys carries job identity through the context of a delivery so
// that handlers and nested calls can log it without threading parameters.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	jobNameKey    contextKey = "job_name"
	deliveryIDKey contextKey = "delivery_id"
)

// WithWorkflowID 设置工作流 ID
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowID 获取工作流 ID
func WorkflowID(ctx context.Context) (string, bool) {
	return stringValue(ctx, workflowIDKey)
}

// WithJobName 设置作业全名
func WithJobName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, jobNameKey, name)
}

// JobName 获取作业全名
func JobName(ctx context.Context) (string, bool) {
	return stringValue(ctx, jobNameKey)
}

// WithDeliveryID 设置派发 ID
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryIDKey, id)
}

// DeliveryID 获取派发 ID
func DeliveryID(ctx context.Context) (string, bool) {
	return stringValue(ctx, deliveryIDKey)
}

// Fields 把 context 中已设置的标识转换为日志字段
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := WorkflowID(ctx); ok {
		fields = append(fields, zap.String("workflow_id", v))
	}
	if v, ok := JobName(ctx); ok {
		fields = append(fields, zap.String("job", v))
	}
	if v, ok := DeliveryID(ctx); ok {
		fields = append(fields, zap.String("delivery_id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
