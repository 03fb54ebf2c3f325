package types

import "time"

// MessageKind 是讨论消息的标签联合，边界处校验固定字段集。
type MessageKind string

const (
	KindSystem      MessageKind = "system"
	KindParticipant MessageKind = "participant"
	KindProposal    MessageKind = "proposal"
	KindVote        MessageKind = "vote"
)

// Message 是讨论流中的一条记录。round/phase 仅对 participant 消息有意义。
type Message struct {
	ID            string      `json:"id"`
	Kind          MessageKind `json:"kind"`
	ParticipantID string      `json:"participant_id,omitempty"`
	Round         int         `json:"round,omitempty"`
	Phase         string      `json:"phase,omitempty"`
	Content       string      `json:"content"`
	Skipped       bool        `json:"skipped,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}
