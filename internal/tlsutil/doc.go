// Package tlsutil 提供出站连接的 TLS 设置：Redis 客户端与健康检查探针
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
