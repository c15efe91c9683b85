// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ChatFlow 服务端程序入口。

# 概述

cmd/chatflow 装配对话引擎与其周边设施，提供 HTTP/WebSocket API、
终端会话、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载
与热重载、结构化日志（zap）、Prometheus 指标与 OpenTelemetry 追踪。

# 核心类型

  - App         — 组件装配：对话管理器、记录存储、待办、异步 worker 池、指标
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、run（终端会话）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、RateLimiter（基于 IP）、
    Auth（X-API-Key 或 HS256 JWT）
  - 配置热重载：Reloader 轮询文件变化，重建对话定义，新会话立即生效
  - Metrics：metrics_port 为 0 时挂在 API 端口的 /metrics，否则独立端口
  - 优雅关闭：信号 → 关闭 HTTP → 等待异步运行 → 关闭存储与缓存 → 关闭遥测
*/
package main
