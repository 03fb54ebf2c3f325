package council

import (
	"fmt"
	"strings"

	"parliament/internal/types"
)

// 提示词全部中文书写，角色口径对齐公司内的议事惯例。
// 模型输出的机器可读部分（決策标记、稟议单区块、表决 JSON）保持英文关键字，
// 解析在 consensus 包完成。

const basePrompt = `你是一家加密货币交易委员会的成员，正在参加一场多人议事。
发言要求：
- 只围绕当前议题发言，先给结论，再给依据；
- 引用数据时注明来自提供的盘面材料；
- 单次发言不超过 300 字；
- 不要重复他人已经说过的内容，可以反驳或补充。`

var rolePrompts = map[types.Role]string{
	types.RoleChair: `你的角色是议长。你不直接给出交易观点，职责是：
- 归纳本轮各方发言的共识与分歧；
- 判断讨论是否已经充分。`,
	types.RoleLeader: `你的角色是部门主管。你从组合与资金管理的角度发言：
仓位规模是否合理、与当前持仓的相关性、最大可接受回撤。`,
	types.RoleWorker: `你的角色是一线分析员。你从技术面细节发言：
关键支撑阻力位、指标背离、成交量配合情况，给出具体价位。`,
	types.RoleCritic: `你的角色是风控批判者。你的职责是专门找出当前思路的漏洞：
最坏情形、止损失效的场景、流动性风险。不要附和，必须提出至少一条具体质疑。`,
	types.RoleProposer: `你的角色是策略提案人。你负责把讨论收敛成可执行的交易方案：
方向、入场价、止盈、止损，并说明盈亏比。`,
}

// chairDecisionInstruction 议长每轮结束时必须附带的机器可读标记。
const chairDecisionInstruction = `

归纳结束后，必须在发言最后单独一行输出以下标记之一：
[DECISION: PROPOSE]  —— 讨论充分，可以起草稟议单
[DECISION: CONTINUE] —— 分歧尚存，进入下一轮
[DECISION: ABORT]    —— 当前不具备交易条件，终止本次议事`

// proposalInstruction 起草稟议单时要求的输出格式。
const proposalInstruction = `

请基于上述讨论起草正式稟议单，严格按以下格式输出（字段关键字保持英文大写）：

---PROPOSAL---
STRATEGY: long 或 short
PAIR: 交易对（如 BTCUSDT）
ENTRY_PRICE: 入场价
TAKE_PROFIT: 止盈价
STOP_LOSS: 止损价
REASONING: 提案依据（一段话）
---END---`

// ballotInstruction 表决时要求的输出格式。
const ballotInstruction = `

请对上述稟议单表决。只输出一个 JSON 对象，不要输出其它内容：
{"decision": "support" 或 "oppose", "reason": "你的理由"}`

// rolePrompt 拼出某个参与者的 system 提示词。
func rolePrompt(p types.Participant) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if rp, ok := rolePrompts[p.Role]; ok {
		b.WriteString("\n\n")
		b.WriteString(rp)
	}
	if desc := strings.TrimSpace(p.Description); desc != "" {
		b.WriteString("\n\n人设补充：")
		b.WriteString(desc)
	}
	return b.String()
}

// renderTranscript 把最近的讨论消息渲染成模型可读的上下文。
func renderTranscript(header string, msgs []types.Message) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if len(msgs) == 0 {
		b.WriteString("（暂无发言，你是第一位发言者）\n")
		return b.String()
	}
	b.WriteString("最近的讨论记录：\n")
	for _, m := range msgs {
		if m.Skipped {
			continue
		}
		speaker := m.ParticipantID
		if m.Kind == types.KindSystem {
			speaker = "主持方"
		}
		b.WriteString(fmt.Sprintf("[第%d轮] %s：%s\n", m.Round, speaker, strings.TrimSpace(m.Content)))
	}
	return b.String()
}
