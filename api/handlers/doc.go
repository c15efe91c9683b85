// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ChatFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现会话、人工中断、事件流与健康检查端点，
以及统一的响应/错误处理。所有 Handler 遵循标准 net/http 接口，
通过 Register 挂载到 Go 1.22 的模式路由 http.ServeMux 上。

# 核心类型

  - ConversationHandler — 会话创建、继续、查询、删除与记录查询，支持异步运行
  - InterruptHandler    — 中断列表、应答与取消，基于 hitl.InterruptManager
  - EventsHandler       — WebSocket 事件流，每个订阅者独立缓冲，慢消费者被断开
  - HealthHandler       — 服务健康检查（/health, /healthz, /ready）
  - Response            — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter      — 包装 http.ResponseWriter 以捕获状态码，透传 Hijack

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteAnyError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射：会话协议错误（BUSY、NOT_SUSPENDED 等）映射为 409，
    生成失败映射为 502
  - 引擎事件回调只做非阻塞入队，不会拖慢会话运行
*/
package handlers
