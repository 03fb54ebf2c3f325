package types

import "strings"

// Role 表示参与者在议事中的分工。
type Role string

const (
	RoleChair    Role = "chair"
	RoleLeader   Role = "leader"
	RoleWorker   Role = "worker"
	RoleCritic   Role = "critic"
	RoleProposer Role = "proposer"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleChair:
		return RoleChair, true
	case RoleLeader:
		return RoleLeader, true
	case RoleWorker:
		return RoleWorker, true
	case RoleCritic:
		return RoleCritic, true
	case RoleProposer:
		return RoleProposer, true
	default:
		return "", false
	}
}

// ParticipantStatus 表示参与者模型的连接状态。
type ParticipantStatus string

const (
	StatusOffline    ParticipantStatus = "offline"
	StatusConnecting ParticipantStatus = "connecting"
	StatusOnline     ParticipantStatus = "online"
	StatusError      ParticipantStatus = "error"
)

// Participant 是一个参与议事的模型成员。会话期间不可变，由 profiles 配置定义。
type Participant struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TeamID           string `json:"team_id"`
	Role             Role   `json:"role"`
	ProviderID       string `json:"provider_id"`
	HasVote          bool   `json:"has_vote"`
	HasProposalRight bool   `json:"has_proposal_right"`
	Description      string `json:"description,omitempty"`

	Status ParticipantStatus `json:"status"`
}

// Eligible 判断该参与者是否为给定提案的有效投票人（提案人自身除外）。
func (p Participant) Eligible(submittedBy string) bool {
	return p.HasVote && p.ID != submittedBy
}
