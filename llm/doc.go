// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义对话引擎使用的文本生成网关，以及围绕网关的装饰器。

# 核心接口

  - [Gateway]：单方法接口，输入有序消息列表，返回生成的文本
  - [GatewayFunc]：函数适配器，便于测试与内联实现
  - [Middleware] / [Chain]：装饰器链，按声明顺序由外向内包裹

# 装饰器

  - [WithRetry]：基于 llm/retry 的指数退避重试
  - [WithRateLimit]：基于 golang.org/x/time/rate 的令牌桶限流
  - [WithCache]：以消息内容哈希为键的响应缓存（Redis）
  - [WithCircuitBreaker]：基于 llm/circuitbreaker 的熔断，连续失败后快速拒绝
  - [WithTracing]：OpenTelemetry span 与调用计数
  - [WithObserver]：将每次调用的耗时与结果交给指标采集器

具体的模型服务商适配位于 llm/providers 子包，组装逻辑位于 llm/factory。
*/
package llm
