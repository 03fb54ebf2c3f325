package app

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"parliament/internal/analysis/screener"
	"parliament/internal/config"
	"parliament/internal/config/loader"
	"parliament/internal/consensus"
	"parliament/internal/council"
	"parliament/internal/gateway/notifier"
	"parliament/internal/gateway/provider"
	"parliament/internal/gateway/venue"
	"parliament/internal/logger"
	"parliament/internal/position"
	"parliament/internal/report"
	"parliament/internal/session"
	"parliament/internal/store/gormstore"
	councilhttp "parliament/internal/transport/http/council"
)

// App 把全部组件手工装配成一个可运行的议事交易服务。
type App struct {
	cfg *config.Config

	bus      *session.Bus
	sess     *session.Session
	roster   *loader.RosterLoader
	engine   *consensus.Engine
	council  *council.Council
	monitor  *position.Monitor
	reporter *report.Reporter
	screener *screener.Screener
	store    *gormstore.Store
	venue    venue.Venue
	httpSrv  *councilhttp.Server

	deliberating atomic.Bool
}

// NewApp 按依赖顺序装配：配置 → 名册 → 模型通道 → 交易所 →
// 会话/总线 → 共识 → 议会 → 监护 → 复盘 → 存储 → HTTP。
func NewApp(cfg *config.Config) (*App, error) {
	bus := session.NewBus()
	sess := session.New(bus)

	roster, err := loader.NewRosterLoader(cfg.AI.ProfilesPath)
	if err != nil {
		return nil, err
	}
	providers := provider.BuildProvidersFromConfig(cfg.AI.ResolveModelConfigs(), cfg.AI.CallTimeout())
	v := venue.NewBinance(cfg.Venue)

	scr := screener.New(v, screener.Options{
		TopN:        cfg.Screen.TopN,
		MinVolume:   cfg.Screen.MinQuoteVolume,
		Intervals:   cfg.Screen.Intervals,
		CandleLimit: cfg.Screen.CandleLimit,
		Quote:       cfg.Trading.QuoteCurrency,
	})

	engine := consensus.NewEngine(cfg.Council.MaxResubmissions)
	cl := council.New(cfg.Council, providers, roster, sess, engine)
	mon := position.NewMonitor(v, bus, cfg.Monitor, cfg.Trading)

	// 复盘叙事交给议长的模型，议长未配置通道时退化为模板文本
	var narrator provider.ModelProvider
	if chair, ok := roster.Snapshot().Chair(); ok {
		narrator = providers[chair.ProviderID]
	}
	rep := report.NewReporter(v, narrator, bus)

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	st.Attach(bus)

	if tg := cfg.Notify.Telegram; tg.Enabled {
		notifier.NewDispatcher(notifier.NewTelegram(tg.BotToken, tg.ChatID)).Attach(bus)
		logger.Infof("Telegram 推送已启用")
	}

	app := &App{
		cfg:      cfg,
		bus:      bus,
		sess:     sess,
		roster:   roster,
		engine:   engine,
		council:  cl,
		monitor:  mon,
		reporter: rep,
		screener: scr,
		store:    st,
		venue:    v,
	}
	mon.SetOnClosed(app.onPositionClosed)

	srv, err := councilhttp.NewServer(cfg.App.HTTPAddr, app)
	if err != nil {
		return nil, err
	}
	app.httpSrv = srv

	roster.Subscribe(func(snap loader.RosterSnapshot) {
		logger.Infof("参与者名册已更新（版本 %d，共 %d 人）", snap.Version, len(snap.Ordered))
	})
	return app, nil
}

// Run 启动 HTTP 服务并阻塞到退出信号。
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("parliament 启动，HTTP 监听 %s", a.httpSrv.Addr())
	err := a.httpSrv.Start(ctx)

	a.monitor.Stop()
	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("关闭数据库失败: %v", cerr)
	}
	logger.Infof("parliament 已退出")
	return err
}

// onPositionClosed 仓位关闭后的收尾：落库完整仓位、生成复盘、会话归位。
func (a *App) onPositionClosed(pos position.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.AI.CallTimeout())
	defer cancel()

	if err := a.store.UpsertPosition(ctx, pos); err != nil {
		logger.Warnf("仓位落库失败 [%s]: %v", pos.ID, err)
	}
	if _, err := a.reporter.Generate(ctx, pos); err != nil {
		logger.Warnf("复盘报告生成失败 [%s]: %v", pos.ID, err)
	}
	if a.sess.Phase() == session.PhaseMonitoring {
		if err := a.sess.TransitionTo(session.PhaseIdle); err != nil {
			logger.Warnf("会话归位失败: %v", err)
		}
	}
}
