// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 实现多方轮次调度的对话引擎。

# 概述

Conversation 持有一份转录、路由图与参与者注册表，逐轮决定下一位发言者，
调用生成网关产生回复，并在终止词、轮次上限或中断策略触发时停止或挂起。

# 生命周期

  - Start(seed)：追加种子轮次并进入回复循环；对 Start 的第一条回复不受中断策略约束
  - 挂起：下一位待发言者的有效策略为 ALWAYS 时，发布 interrupt 事件后返回
  - Continue(feedback)：非空 feedback 直接作为待发言者的轮次追加，不调用网关；
    空 feedback 则代其调用一次网关
  - 内容恰好为 TERMINATE 时对话结束；全局轮次达到 MaxRounds 时静默结束

# 群聊

当待发言者的路由条目是候选集合时，该参与者作为群聊协调者：
先以 "next role" 查询选择候选人，再由候选人回复协调者。
群内轮次计数独立于全局计数，达到 RoundLimit 后控制权交还给呼叫协调者的参与者。

# 事件

每个对话实例拥有独立的事件总线，同步分发 message 与 interrupt 两类事件。
interrupt 事件在状态标记为挂起之后才分发，处理函数可以直接调用 Continue。

Manager 按 Definition 批量创建对话并按 ID 管理。
*/
package conversation
