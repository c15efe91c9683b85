// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 chatflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertTurns 按 "from>to" 路径比较转录
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: ScriptedGateway，按序或按函数产生回复，
    自动识别协调者的 "next role" 查询，支持错误注入与调用计数
  - testutil/fixtures: 预置对话拓扑（双人对话、群聊）

# 使用示例

	reg, graph := fixtures.TwoParty(participant.PolicyNever)
	gw := mocks.NewScriptedGateway().WithResponse("TERMINATE")
	conv, _ := conversation.New(conversation.Config{Registry: reg, Graph: graph, Gateway: gw})
	err := conv.Start(testutil.TestContext(t), transcript.NewTurn("U", "B", "2+2=4?"))
*/
package testutil
