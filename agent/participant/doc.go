// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package participant 提供对话参与者的配置与注册表。

# 概述

每个参与者由唯一 ID 标识，配置包括类型（human_proxy / agent /
group_coordinator）、可选的 SystemRole、中断策略（ALWAYS / NEVER）、
群聊轮次上限以及专属的 Generation Gateway。配置在注册后不可变。

# 核心类型

  - Kind            — 参与者类型（tagged variant，由引擎 switch 处理）
  - InterruptPolicy — 自动回复前是否需要外部确认
  - Config          — 参与者配置
  - Registry        — 按 ID 查找配置的只读注册表
*/
package participant
