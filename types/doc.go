// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chatflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、api 等上层模块
提供统一的类型契约，避免循环依赖。

# 核心类型

  - Message           — Generation Gateway 的上下文消息（Role、Name、Content）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithConversationID / WithTraceID
  - 错误工具链：NewError / IsCode / GetErrorCode / IsRetryable
*/
package types
