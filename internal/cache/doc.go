// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装共享的 Redis 连接，供生成结果缓存与 Redis 转录存储使用。

# 核心类型

  - Manager：持有 Redis 客户端，提供带键前缀的 Get/Set/Delete/Ping，
    后台定时健康检查，Close 幂等。
  - Config：地址、密码、键前缀、默认 TTL 与连接池参数。

未命中通过 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断。
*/
package cache
