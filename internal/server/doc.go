// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

Manager 封装 net/http.Server，负责监听、后台服务、异步错误传播与
带超时的优雅关闭；配置证书与私钥时以 HTTPS 提供服务。Run 同时
托管多个服务器（如 API 与指标端口），在上下文结束或任一服务器
出错时通过 errgroup 并行关闭全部服务器。信号处理交给调用方的
signal.NotifyContext。
*/
package server
