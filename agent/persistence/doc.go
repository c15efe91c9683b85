// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供会话转录的持久化存储抽象及多后端实现。

# 概述

引擎本身只在内存中维护转录。本包通过订阅消息事件，把每个新增
轮次写入外部存储，并支持在进程重启后加载历史转录继续会话。

# 核心接口

  - TranscriptStore：按会话追加、加载、删除与列举转录。
  - Recorder：订阅 EventMessage 并写入存储，可配置重试与超时，
    写入失败只记录日志，不影响会话运行。
  - Resume：加载转录，交给 conversation.WithTranscript 恢复会话。
  - MultiStore：同时写入多个存储，读取走第一个。

# 后端

  - memory：开发与测试。
  - file：每个会话一个 JSON Lines 文件。
  - redis：列表保存轮次，集合维护会话索引，可复用缓存客户端。
  - sql：GORM 表 chatflow_turns，支持 postgres、mysql、sqlite。
  - mongo：每个轮次一个文档，(conversation_id, seq) 唯一索引。
*/
package persistence
