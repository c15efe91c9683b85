// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为 SQL 转录存储提供 GORM 连接与连接池管理。

# 核心类型

  - Config：驱动（postgres、mysql、sqlite）与连接参数，可直接给出 URL。
  - Open：按 Config 选择 GORM 方言并建立连接。
  - PoolManager：连接池调优、后台健康检查与事务辅助。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 对死锁、
序列化失败、sqlite 锁等瞬时错误做指数退避重试。
*/
package database
