package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/wfunc/spectro-head/internal/adapter"
	"github.com/wfunc/spectro-head/internal/api"
	"github.com/wfunc/spectro-head/internal/config"
	"github.com/wfunc/spectro-head/internal/database"
	"github.com/wfunc/spectro-head/internal/errors"
	"github.com/wfunc/spectro-head/internal/head"
	"github.com/wfunc/spectro-head/internal/logger"
	"github.com/wfunc/spectro-head/internal/models"
	"github.com/wfunc/spectro-head/internal/repository"
	ws "github.com/wfunc/spectro-head/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	endpoint   head.Endpoint
	controller *head.HeadController
	hub        *ws.StatusHub
	router     *api.Router

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动光谱仪头部控制服务...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initDatabase(); err != nil {
		return err
	}

	if err := s.initHead(); err != nil {
		return err
	}

	s.startServices()

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.cfg = newCfg
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)),
		zap.String("serial", s.endpoint.Name()),
	)

	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(&models.TransactionLog{}); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// initHead 初始化串口端点与操作控制器
func (s *Server) initHead() error {
	s.logger.Info("初始化头部单元...")

	var err error
	if s.cfg.Serial.MockMode {
		s.logger.Warn("mock_mode已启用，使用内存模拟端点")
		s.endpoint = newMockDevice(&s.cfg.Head)
	} else {
		s.endpoint, err = head.NewSerialEndpoint(
			s.cfg.Serial.Port,
			s.cfg.Serial.BaudRate,
			s.cfg.Serial.ReadTimeout,
			s.cfg.Serial.WriteTimeout,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrSerialPortOpen, s.cfg.Serial.Port)
		}
	}

	recorder := adapter.NewDBRecorder(repository.NewTransactionLogRepository(database.GetDB()))
	s.controller = head.NewController(s.endpoint, head.OptionsFromConfig(&s.cfg.Head), recorder)
	s.controller.SetFilterTable(head.NewFilterTable(s.cfg.Head.Filters))

	// 连接后先确认设备身份
	if err := s.controller.VerifyIdentity(); err != nil {
		s.logger.Warn("设备身份确认失败，链路可能不可用", zap.Error(err))
	}

	s.hub = ws.NewStatusHub()
	s.controller.SetCompletionFunc(func(snap head.StatusSnapshot) {
		s.hub.PushSnapshot("operation_complete", snap)
	})

	s.logger.Info("头部单元初始化完成")
	return nil
}

// startServices 启动HTTP与WebSocket服务
func (s *Server) startServices() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run()
	}()

	s.router = api.NewRouter(database.GetDB(), s.controller, s.hub, s.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
		if err := s.router.Run(addr); err != nil {
			s.logger.Error("HTTP服务退出", zap.Error(err))
		}
	}()
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))

	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	// 置位中止标志，让在飞的操作尽快收敛
	if s.controller != nil {
		s.controller.Abort()
	}

	s.cancel()

	if s.controller != nil {
		if err := s.controller.Close(); err != nil {
			s.logger.Error("关闭串口失败", zap.Error(err))
		}
	}

	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// newMockDevice 构造一个按协议应答的模拟设备（mock_mode）
func newMockDevice(cfg *config.HeadConfig) *head.MockEndpoint {
	identity := cfg.Identity
	identityCmd := cfg.IdentityCommand
	return head.NewMockEndpoint(func(cmd string) (string, bool) {
		if cmd == identityCmd {
			return identity + "\r\n", true
		}
		if len(cmd) >= 2 {
			return cmd[:2] + "0\r\n", true
		}
		return "", false
	})
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("光谱仪头部控制服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("光谱仪头部控制服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  spectro-head-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SPECTRO_HEAD_SERIAL_PORT      串口设备路径")
	fmt.Println("  SPECTRO_HEAD_SERIAL_MOCK_MODE 使用内存模拟端点")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  spectro-head-server -config=/path/to/config.yaml")
	fmt.Println("  spectro-head-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println(strings.Repeat("═", 63))
	fmt.Printf("光谱仪头部控制服务 | 版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("滤光轮: %v | 遮光带: %v\n", cfg.Head.Wheels, cfg.Head.Shadowband)
	fmt.Println(strings.Repeat("═", 63))
}
