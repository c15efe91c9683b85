// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 是模型后端的公共基础层。子包把 llm.Gateway 的消息列表
转换为各服务商的请求格式，并把上游错误映射为带 Retryable 标记的
types.Error，供 llm.WithRetry 判断是否重试。

# 子包

  - openaicompat — 基于 net/http 的 OpenAI 兼容 Chat Completions 后端，
    适用于 DeepSeek、Qwen、GLM 等兼容服务与本地推理网关
  - openai — 基于官方 openai-go SDK
  - anthropic — 基于官方 anthropic-sdk-go SDK

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为语义化错误
  - ReadErrorMessage — 解析上游错误响应体
  - TransportError — 网络层错误统一为可重试的上游错误
  - SpeakerPrefix — 多方会话中为他人消息加上说话人标记
*/
package providers
