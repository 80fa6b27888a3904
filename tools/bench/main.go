package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// -------------------- 进程监控 --------------------

type SystemStats struct {
	Timestamp   time.Time
	MemoryUsage float64
	MemoryTotal uint64
	MemoryUsed  uint64
	Goroutines  int
}

type Monitor struct {
	stats    []SystemStats
	interval time.Duration
	stopChan chan struct{}
}

func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		stats:    make([]SystemStats, 0, 512),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func getMemoryUsage() (usagePercent float64, total, used uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total = m.Sys
	used = m.Alloc
	if total > 0 {
		usagePercent = float64(used) / float64(total) * 100
	}
	return
}

func (m *Monitor) collectStats() SystemStats {
	memUsage, memTotal, memUsed := getMemoryUsage()
	stats := SystemStats{
		Timestamp:   time.Now(),
		MemoryUsage: memUsage,
		MemoryTotal: memTotal,
		MemoryUsed:  memUsed,
		Goroutines:  runtime.NumGoroutine(),
	}
	m.stats = append(m.stats, stats)
	return stats
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.printStats(m.collectStats())
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() { close(m.stopChan) }

func (m *Monitor) printStats(s SystemStats) {
	fmt.Printf("[%s] 内存: %.1f%% (%.1fMB/%.1fMB) | Goroutines: %d\n",
		s.Timestamp.Format("15:04:05"), s.MemoryUsage,
		float64(s.MemoryUsed)/1024/1024, float64(s.MemoryTotal)/1024/1024,
		s.Goroutines,
	)
}

func (m *Monitor) GenerateReport() {
	if len(m.stats) == 0 {
		fmt.Println("没有监控数据")
		return
	}
	var sumMem float64
	var sumGo int
	var maxMem float64
	var maxGo int
	for _, s := range m.stats {
		sumMem += s.MemoryUsage
		sumGo += s.Goroutines
		if s.MemoryUsage > maxMem {
			maxMem = s.MemoryUsage
		}
		if s.Goroutines > maxGo {
			maxGo = s.Goroutines
		}
	}
	n := float64(len(m.stats))
	fmt.Println("\n=== 监控报告 ===")
	fmt.Printf("持续: %v\n", m.stats[len(m.stats)-1].Timestamp.Sub(m.stats[0].Timestamp))
	fmt.Printf("平均内存: %.1f%%, 峰值内存: %.1f%%\n", sumMem/n, maxMem)
	fmt.Printf("平均Goroutine: %d, 峰值Goroutine: %d\n", int(float64(sumGo)/n+0.5), maxGo)
}

// -------------------- 压测统计 --------------------

type APITestStats struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	mu                 sync.Mutex
}

func (s *APITestStats) Add(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
		if s.AverageLatency == 0 {
			s.AverageLatency = latency
			s.MaxLatency = latency
			s.MinLatency = latency
		} else {
			s.AverageLatency = (s.AverageLatency + latency) / 2
			if latency > s.MaxLatency {
				s.MaxLatency = latency
			}
			if latency < s.MinLatency {
				s.MinLatency = latency
			}
		}
	} else {
		s.FailedRequests++
	}
}

// -------------------- 压测客户端 --------------------

type benchClient struct {
	base   string
	http   *http.Client
	UserID uint
	Token  string
}

func newBenchClient(base string) *benchClient {
	return &benchClient{
		base: base,
		http: &http.Client{Timeout: 8 * time.Second},
	}
}

func (c *benchClient) postJSON(path string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// setup 注册并登录一个压测用户，失败时回退到登录（用户已存在）
func (c *benchClient) setup(username string) error {
	var envelope struct {
		Data struct {
			User struct {
				ID uint `json:"id"`
			} `json:"user"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}

	code, err := c.postJSON("/api/v1/users/register", map[string]string{
		"username": username,
		"email":    username + "@bench.local",
		"password": "bench-pass-123",
	}, &envelope)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		code, err = c.postJSON("/api/v1/users/login", map[string]string{
			"usernameOrEmail": username,
			"password":        "bench-pass-123",
		}, &envelope)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("登录失败: HTTP %d", code)
		}
	}
	c.UserID = envelope.Data.User.ID
	c.Token = envelope.Data.AccessToken
	return nil
}

// sendMessage 发送一条私聊消息并记录延迟
func (c *benchClient) sendMessage(receiverID uint, seq int, stats *APITestStats) {
	start := time.Now()
	code, err := c.postJSON("/api/v1/messages/send", map[string]interface{}{
		"receiver_id": receiverID,
		"content":     fmt.Sprintf("压测消息 #%d", seq),
	}, nil)
	stats.Add(err == nil && code == http.StatusOK, time.Since(start))
}

func runMessageBench(base string, concurrency, perClient int) {
	fmt.Println("\n=== 消息发送压测开始 ===")
	fmt.Printf("目标: %s 并发客户端: %d 每客户端消息: %d\n", base, concurrency, perClient)

	// 准备压测账号：每个并发槽一对收发用户
	clients := make([]*benchClient, concurrency)
	peers := make([]*benchClient, concurrency)
	runID := time.Now().Unix()
	for i := 0; i < concurrency; i++ {
		sender := newBenchClient(base)
		receiver := newBenchClient(base)
		if err := sender.setup(fmt.Sprintf("bench_s%d_%d", runID, i)); err != nil {
			fmt.Println("初始化发送方失败:", err)
			return
		}
		if err := receiver.setup(fmt.Sprintf("bench_r%d_%d", runID, i)); err != nil {
			fmt.Println("初始化接收方失败:", err)
			return
		}
		clients[i] = sender
		peers[i] = receiver
	}
	fmt.Printf("账号准备完成: %d 对\n", concurrency)

	stats := &APITestStats{}
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				clients[id].sendMessage(peers[id].UserID, j, stats)
			}
		}(i)
	}
	wg.Wait()

	took := time.Since(start)
	fmt.Println("\n=== 压测结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总请求: %d 成功: %d 失败: %d\n", stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
	fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", stats.AverageLatency, stats.MaxLatency, stats.MinLatency)
	if took > 0 {
		fmt.Printf("QPS: %.2f\n", float64(stats.SuccessfulRequests)/took.Seconds())
	}
	if stats.TotalRequests > 0 {
		fmt.Printf("成功率: %.2f%%\n", float64(stats.SuccessfulRequests)/float64(stats.TotalRequests)*100)
	}
}

// -------------------- 入口 --------------------

func main() {
	concurrency := 5
	perClient := 10
	if len(os.Args) > 1 {
		if v, err := strconv.Atoi(os.Args[1]); err == nil {
			concurrency = v
		}
	}
	if len(os.Args) > 2 {
		if v, err := strconv.Atoi(os.Args[2]); err == nil {
			perClient = v
		}
	}

	baseURL := "http://localhost:8080"
	if env := os.Getenv("BENCH_BASE_URL"); env != "" {
		baseURL = env
	}

	fmt.Println("=== 聊天服务并发压测 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))

	mon := NewMonitor(1 * time.Second)
	mon.Start()

	runMessageBench(baseURL, concurrency, perClient)

	mon.Stop()
	mon.GenerateReport()

	fmt.Println("\n=== 测试完成 ===")
}
