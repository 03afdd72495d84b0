package main

import (
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kataras/iris/v12"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"heif-player/internal/config"
	"heif-player/internal/heif"
	"heif-player/internal/logging"
	"heif-player/internal/metrics"
	"heif-player/internal/notify"
	"heif-player/internal/server"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	manifest := flag.String("manifest", "", "HEIF manifest (YAML) to play")
	demo := flag.Bool("demo", false, "Play a generated demo sequence instead of a file")
	compression := flag.String("compression", "", "Frame compression: none or zstd (overrides config)")
	frameRate := flag.Float64("fps", 0, "Play image collections at this frame rate (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "Don't open browser automatically")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *compression != "" {
		cfg.Server.Compression = *compression
	}
	if *frameRate > 0 {
		cfg.Player.FrameRate = *frameRate
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}
	logging.SetDebugMode(cfg.Debug)

	if *manifest == "" && !*demo {
		fmt.Fprintln(os.Stderr, "需要 -manifest 或 -demo")
		flag.Usage()
		os.Exit(2)
	}

	// 打开文件
	var media *server.Media
	var err error
	if *demo {
		media, err = server.NewDemoMedia(heif.SyntheticOptions{
			Width: 320, Height: 180, Frames: 96, GOP: 12, Intervals: []int64{40}, Thumbnail: true,
		})
	} else {
		media, err = server.OpenMedia(*manifest)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开文件: %v\n", err)
		os.Exit(1)
	}
	defer media.Close()

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// MQTT (可选)
	var broker *notify.Broker
	if cfg.MQTT.Enabled() {
		broker, err = notify.Connect(cfg.MQTT)
		if err != nil {
			logging.LogWarn("MQTT 不可用，跳过状态发布", "error", err)
		} else {
			defer broker.Close()
		}
	}

	handlers, err := server.NewHandlers(media, server.Options{
		Player:      cfg.Player,
		Compression: cfg.Server.Compression,
		Metrics:     m,
		Broker:      broker,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer handlers.Close()

	// 查找可用端口
	actualPort := findAvailablePort(cfg.Server.Host, cfg.Server.Port)

	fmt.Println("============================================================")
	fmt.Println("HEIF 图像序列播放器")
	fmt.Println("============================================================")
	fmt.Printf("文件: %s\n", media.Name())
	fmt.Printf("队列: %s, 压缩: %s\n", cfg.Player.QueueOrder, cfg.Server.Compression)
	fmt.Printf("监听地址: http://localhost:%d\n", actualPort)
	fmt.Println("============================================================")

	app := iris.New()
	app.Logger().SetLevel("warn")

	// CORS
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		if ctx.Method() == "OPTIONS" {
			ctx.StatusCode(204)
			return
		}
		ctx.Next()
	})

	server.RegisterRoutes(app, handlers, reg)

	// 嵌入的静态文件
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		logging.LogWarn("无法加载嵌入的静态文件", "error", err)
	} else {
		app.HandleDir("/", http.FS(staticSub), iris.DirOptions{
			IndexName: "index.html",
			SPA:       true,
		})
	}

	// 优雅关闭
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		fmt.Println("\n正在关闭...")
		handlers.Close()
		app.Shutdown(nil)
	}()

	// 自动打开浏览器
	if !*noBrowser {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openBrowser(fmt.Sprintf("http://localhost:%d", actualPort))
		}()
	}

	if err := app.Listen(fmt.Sprintf("%s:%d", cfg.Server.Host, actualPort)); err != nil {
		logging.LogError("服务器错误", "error", err)
	}
}

// findAvailablePort 查找可用端口，如果指定端口被占用则递增
func findAvailablePort(host string, startPort int) int {
	for port := startPort; port < startPort+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return startPort // 回退到原始端口
}

// openBrowser 打开默认浏览器
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	}
	if err != nil {
		fmt.Printf("无法自动打开浏览器，请手动访问: %s\n", url)
	}
}
