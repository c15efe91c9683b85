// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的会话引擎指标采集。

# 概述

Collector 通过 promauto 注册全部指标，按 namespace 隔离。
NewCollectorWith 接受独立的 Registerer，测试中用它避免重复注册。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 生成指标：按 backend/participant/status 统计调用次数与耗时，
    通过 llm.Observer 接入网关中间件链。
  - 会话指标：创建数、按 state 统计的轮次、中断次数，
    由 Attach/Hook 订阅会话事件得到。
  - 运行指标：Start/Continue 的结果状态、停止原因与耗时。
  - 存储指标：记录器写入成功与失败次数。
*/
package metrics
