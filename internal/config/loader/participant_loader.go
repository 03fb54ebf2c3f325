package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"parliament/internal/logger"
	"parliament/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ParticipantDefinition 描述议会中的一位参与者及其发言顺位。
type ParticipantDefinition struct {
	Name        string `mapstructure:"name"`
	Team        string `mapstructure:"team"`
	Role        string `mapstructure:"role"`
	Provider    string `mapstructure:"provider"`
	CanVote     bool   `mapstructure:"can_vote"`
	CanPropose  bool   `mapstructure:"can_propose"`
	Order       int    `mapstructure:"order"`
	Description string `mapstructure:"description"`
}

// FileConfig 是完整的参与者配置文件结构。
type FileConfig struct {
	Participants map[string]ParticipantDefinition `mapstructure:"participants"`
}

// RosterSnapshot 对外暴露的只读快照，Ordered 按发言顺位排序。
type RosterSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Ordered  []types.Participant
}

// ByID 返回指定参与者；未找到时 ok=false。
func (s RosterSnapshot) ByID(id string) (types.Participant, bool) {
	for _, p := range s.Ordered {
		if p.ID == id {
			return p, true
		}
	}
	return types.Participant{}, false
}

// Voters 返回全部有投票权的参与者（含主席与各队领袖）。
func (s RosterSnapshot) Voters() []types.Participant {
	out := make([]types.Participant, 0, len(s.Ordered))
	for _, p := range s.Ordered {
		if p.HasVote {
			out = append(out, p)
		}
	}
	return out
}

// Chair 返回主席（role=chair 的第一位）。
func (s RosterSnapshot) Chair() (types.Participant, bool) {
	for _, p := range s.Ordered {
		if p.Role == types.RoleChair {
			return p, true
		}
	}
	return types.Participant{}, false
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(RosterSnapshot)

// RosterLoader 负责从 YAML 文件加载参与者名册，并监听热更新。
// 名册在会话进行中不会被议事流程读取到一半：消费方在回合边界取快照。
type RosterLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  RosterSnapshot
	listeners []ChangeListener
}

// NewRosterLoader 读取配置文件并开始监听 FS 事件。
func NewRosterLoader(path string) (*RosterLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("roster loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read participants config failed: %w", err)
	}
	loader := &RosterLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("roster reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前名册快照（深拷贝）。
func (l *RosterLoader) Snapshot() RosterSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *RosterLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("roster listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *RosterLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("roster listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *RosterLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse participants config failed: %w", err)
	}
	ordered, err := normalizeRoster(fileCfg.Participants)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = RosterSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Ordered:  ordered,
	}
	l.mu.Unlock()
	logger.Infof("名册已加载：%d 位参与者（%s）", len(ordered), filepath.Base(l.path))
	return nil
}

func normalizeRoster(defs map[string]ParticipantDefinition) ([]types.Participant, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("participants config is empty")
	}
	type entry struct {
		order int
		p     types.Participant
	}
	entries := make([]entry, 0, len(defs))
	chairCount := 0
	for id, def := range defs {
		role, ok := types.ParseRole(def.Role)
		if !ok {
			return nil, fmt.Errorf("participant %s: unknown role %q", id, def.Role)
		}
		if role == types.RoleChair {
			chairCount++
		}
		name := strings.TrimSpace(def.Name)
		if name == "" {
			name = id
		}
		entries = append(entries, entry{
			order: def.Order,
			p: types.Participant{
				ID:               strings.TrimSpace(id),
				Name:             name,
				TeamID:           strings.TrimSpace(def.Team),
				Role:             role,
				ProviderID:       strings.TrimSpace(def.Provider),
				HasVote:          def.CanVote,
				HasProposalRight: def.CanPropose,
				Description:      strings.TrimSpace(def.Description),
				Status:           types.StatusOffline,
			},
		})
	}
	if chairCount != 1 {
		return nil, fmt.Errorf("participants config requires exactly one chair, got %d", chairCount)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].p.ID < entries[j].p.ID
	})
	out := make([]types.Participant, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.p)
	}
	return out, nil
}

func cloneSnapshot(in RosterSnapshot) RosterSnapshot {
	out := RosterSnapshot{Version: in.Version, LoadedAt: in.LoadedAt}
	out.Ordered = append([]types.Participant(nil), in.Ordered...)
	return out
}
