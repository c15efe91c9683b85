// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 circuitbreaker 为生成后端提供熔断保护。

连续失败达到阈值后熔断器打开，后续调用立即以 SERVICE_UNAVAILABLE
失败；OpenTimeout 之后进入半开状态放行少量试探调用，成功则关闭，
失败则重新打开。请求错误（不可重试的 types.Error）与调用方取消
不计入失败。
*/
package circuitbreaker
